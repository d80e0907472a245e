package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/barreiro/wildfly-core/internal/domain"
)

// DeploymentMarker is the fingerprint of one successfully deployed unit:
// the modification time its .deployed marker had when the deployment was
// last reconciled.
type DeploymentMarker struct {
	LastModified time.Time
}

// Registry tracks the deployments this scanner knows to be deployed, keyed
// by deployment name.
//
// Not safe for concurrent use. All mutation happens from task outcome
// handlers, which run inside the scanner's single-flight scan lock; the
// registry itself carries no locking so it can never deadlock against that
// outer lock.
type Registry struct {
	deployed map[string]DeploymentMarker
}

func NewRegistry() *Registry {
	return &Registry{deployed: make(map[string]DeploymentMarker)}
}

func (r *Registry) Get(name string) (DeploymentMarker, bool) {
	m, ok := r.deployed[name]
	return m, ok
}

func (r *Registry) Put(name string, m DeploymentMarker) {
	r.deployed[name] = m
}

func (r *Registry) Remove(name string) {
	delete(r.deployed, name)
}

// Names returns a working copy of the registered deployment names. The scan
// pass deletes every name it still observes on disk; whatever remains is
// implicitly gone and becomes an undeploy.
func (r *Registry) Names() map[string]bool {
	names := make(map[string]bool, len(r.deployed))
	for name := range r.deployed {
		names[name] = true
	}
	return names
}

// Load seeds the registry from the .deployed markers under dir, recursing
// into non-archive subdirectories. A marker whose name the management
// facility does not have registered is an orphan left over from a previous
// life of the server; it is deleted so the on-disk marker set and the
// registry converge. Called once, at construction.
func (r *Registry) Load(dir string, registered map[string]bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("list %s: %w", dir, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			if !domain.IsArchiveDirectory(name) {
				if err := r.Load(filepath.Join(dir, name), registered); err != nil {
					return err
				}
			}
			continue
		}

		kind, deploymentName := domain.ClassifyMarker(name)
		if kind != domain.MarkerDeployed {
			continue
		}

		marker := filepath.Join(dir, name)
		if !registered[deploymentName] {
			if err := os.Remove(marker); err != nil {
				logrus.WithError(err).Warnf("cannot remove extraneous deployment marker file %s", marker)
			}
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", marker, err)
		}
		r.deployed[deploymentName] = DeploymentMarker{LastModified: info.ModTime()}
	}
	return nil
}
