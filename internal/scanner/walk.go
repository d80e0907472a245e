package scanner

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/barreiro/wildfly-core/internal/domain"
)

// scanDirectory classifies every entry under dir into pending tasks,
// recursing into non-archive subdirectories. Names still observed on disk
// are deleted from toRemove; whatever the caller finds left in toRemove
// after the walk is gone and becomes an undeploy.
func (s *Scanner) scanDirectory(dir string, registered map[string]bool, toRemove map[string]bool) []scannerTask {
	entries, err := os.ReadDir(dir)
	if err != nil {
		logrus.WithError(err).Warnf("cannot list directory %s", dir)
		return nil
	}

	var tasks []scannerTask
	for _, entry := range entries {
		fileName := entry.Name()
		child := filepath.Join(dir, fileName)
		if !s.filter(child, entry) {
			continue
		}

		kind, deploymentName := domain.ClassifyMarker(fileName)
		switch kind {
		case domain.MarkerDeployed:
			delete(toRemove, deploymentName)
			marker, ok := s.registry.Get(deploymentName)
			if !ok {
				// Orphaned marker: nothing we know of was deployed
				// under this name.
				if err := os.Remove(child); err != nil {
					logrus.WithError(err).Warnf("cannot remove extraneous deployment marker file %s", fileName)
				}
				continue
			}
			info, err := entry.Info()
			if err != nil {
				logrus.WithError(err).Warnf("cannot stat deployment marker file %s", child)
				continue
			}
			if !marker.LastModified.Equal(info.ModTime()) {
				tasks = append(tasks, &redeployTask{
					scanner:            s,
					deploymentName:     deploymentName,
					markerLastModified: info.ModTime(),
				})
			}

		case domain.MarkerDoDeploy:
			delete(toRemove, deploymentName)
			deploymentFile := filepath.Join(dir, deploymentName)
			if _, err := os.Stat(deploymentFile); err != nil {
				logrus.Warnf("deployment of %q requested, but the deployment is not present", deploymentFile)
				if err := os.Remove(child); err != nil {
					logrus.WithError(err).Warnf("cannot remove extraneous deployment marker file %s", fileName)
				}
				continue
			}
			ct := contentTask{scanner: s, deploymentName: deploymentName, deploymentFile: deploymentFile}
			if registered[deploymentName] {
				tasks = append(tasks, &replaceTask{contentTask: ct})
			} else {
				tasks = append(tasks, &deployTask{contentTask: ct})
			}

		case domain.MarkerFailedDeploy:
			// The artifact is excluded from removal consideration, but no
			// task is queued: the operator must clear the failure marker
			// to retry.
			delete(toRemove, deploymentName)

		default:
			if entry.IsDir() && !domain.IsArchiveDirectory(fileName) {
				tasks = append(tasks, s.scanDirectory(child, registered, toRemove)...)
			}
		}
	}
	return tasks
}
