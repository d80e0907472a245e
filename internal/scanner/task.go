package scanner

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/moby/sys/atomicwriter"
	"github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"

	"github.com/barreiro/wildfly-core/internal/domain"
)

// scannerTask is one pending change to reconcile. The variant set is closed:
// deploy, replace, redeploy, undeploy. Tasks are built fresh each scan pass
// from filesystem observation, consumed once, and discarded.
type scannerTask interface {
	name() string
	kind() domain.Action
	buildOperation(ctx context.Context) domain.Operation
	onSuccess()
	onFailure(detail string)
}

// contentTask is the shared behavior of deploy and replace: both upload the
// artifact to the content store and on success flip the marker state from
// .dodeploy to .deployed.
type contentTask struct {
	scanner        *Scanner
	deploymentName string
	deploymentFile string
}

func (t *contentTask) name() string { return t.deploymentName }

// uploadContent streams the artifact into the content store. An I/O failure
// is not fatal to the scan: it returns an empty hash, which the subsequent
// remote step will reject, routing the problem through the normal
// failed-marker path.
func (t *contentTask) uploadContent(ctx context.Context) digest.Digest {
	f, err := os.Open(t.deploymentFile)
	if err != nil {
		logrus.WithError(err).Errorf("failed to open deployment content for [%s]", t.deploymentName)
		return ""
	}
	defer f.Close()

	hash, err := t.scanner.content.Add(ctx, t.deploymentName, f)
	if err != nil {
		logrus.WithError(err).Errorf("failed to add content to deployment repository for [%s]", t.deploymentName)
		return ""
	}
	return hash
}

func (t *contentTask) onSuccess() {
	doDeployMarker := t.deploymentFile + domain.SuffixDoDeploy
	if err := os.Remove(doDeployMarker); err != nil {
		logrus.WithError(err).Errorf("failed to delete deployment marker file %s", doDeployMarker)
	}

	// Clear any failure marker from a previous attempt.
	failedMarker := t.deploymentFile + domain.SuffixFailedDeploy
	if _, err := os.Stat(failedMarker); err == nil {
		if err := os.Remove(failedMarker); err != nil {
			logrus.WithError(err).Warnf("unable to remove marker file %s", failedMarker)
		}
	}

	deployedMarker := t.deploymentFile + domain.SuffixDeployed
	if err := atomicwriter.WriteFile(deployedMarker, []byte(filepath.Base(t.deploymentFile)), 0o644); err != nil {
		logrus.WithError(err).Errorf("caught exception writing deployment marker file %s", deployedMarker)
		return
	}

	info, err := os.Stat(deployedMarker)
	if err != nil {
		logrus.WithError(err).Errorf("cannot stat deployment marker file %s", deployedMarker)
		return
	}
	t.scanner.registry.Put(t.deploymentName, DeploymentMarker{LastModified: info.ModTime()})
}

func (t *contentTask) onFailure(detail string) {
	writeFailedMarker(t.deploymentFile, detail)
}

type deployTask struct {
	contentTask
}

func (t *deployTask) kind() domain.Action { return domain.ActionDeploy }

func (t *deployTask) buildOperation(ctx context.Context) domain.Operation {
	hash := t.uploadContent(ctx)
	return domain.Operation{Steps: []domain.Step{
		{Action: domain.ActionAddContent, Deployment: t.deploymentName, Hash: hash},
		{Action: domain.ActionDeploy, Deployment: t.deploymentName},
	}}
}

type replaceTask struct {
	contentTask
}

func (t *replaceTask) kind() domain.Action { return domain.ActionFullReplace }

func (t *replaceTask) buildOperation(ctx context.Context) domain.Operation {
	hash := t.uploadContent(ctx)
	return domain.Operation{Steps: []domain.Step{
		{Action: domain.ActionFullReplace, Deployment: t.deploymentName, Hash: hash},
	}}
}

// redeployTask reacts to an externally touched .deployed marker. Content is
// assumed unchanged remotely; only the local timestamp moved.
type redeployTask struct {
	scanner            *Scanner
	deploymentName     string
	markerLastModified time.Time
}

func (t *redeployTask) name() string        { return t.deploymentName }
func (t *redeployTask) kind() domain.Action { return domain.ActionRedeploy }

func (t *redeployTask) buildOperation(context.Context) domain.Operation {
	return domain.Operation{Steps: []domain.Step{
		{Action: domain.ActionRedeploy, Deployment: t.deploymentName},
	}}
}

func (t *redeployTask) onSuccess() {
	t.scanner.registry.Put(t.deploymentName, DeploymentMarker{LastModified: t.markerLastModified})
}

func (t *redeployTask) onFailure(detail string) {
	// Leave the .deployed marker and registry untouched so the timestamp
	// mismatch is re-evaluated on the next pass.
	logrus.WithField("deployment", t.deploymentName).Errorf("redeploy failed, will retry on next scan: %s", detail)
}

type undeployTask struct {
	scanner        *Scanner
	deploymentName string
}

func (t *undeployTask) name() string        { return t.deploymentName }
func (t *undeployTask) kind() domain.Action { return domain.ActionUndeploy }

func (t *undeployTask) buildOperation(context.Context) domain.Operation {
	return domain.Operation{Steps: []domain.Step{
		{Action: domain.ActionUndeploy, Deployment: t.deploymentName},
		{Action: domain.ActionRemove, Deployment: t.deploymentName},
	}}
}

func (t *undeployTask) onSuccess() {
	t.scanner.registry.Remove(t.deploymentName)
}

func (t *undeployTask) onFailure(detail string) {
	// The registry entry stays, so the next pass observes the artifact
	// still missing and queues the undeploy again.
	logrus.WithField("deployment", t.deploymentName).Errorf("undeploy failed, will retry on next scan: %s", detail)
}

// writeFailedMarker records a terminal deploy failure: it clears the intent
// and deployed markers and writes a .faileddeploy whose content is the
// failure detail text.
func writeFailedMarker(deploymentFile, detail string) {
	doDeployMarker := deploymentFile + domain.SuffixDoDeploy
	if _, err := os.Stat(doDeployMarker); err == nil {
		if err := os.Remove(doDeployMarker); err != nil {
			logrus.WithError(err).Warnf("unable to remove marker file %s", doDeployMarker)
		}
	}
	deployedMarker := deploymentFile + domain.SuffixDeployed
	if _, err := os.Stat(deployedMarker); err == nil {
		if err := os.Remove(deployedMarker); err != nil {
			logrus.WithError(err).Warnf("unable to remove marker file %s", deployedMarker)
		}
	}

	failedMarker := deploymentFile + domain.SuffixFailedDeploy
	if err := atomicwriter.WriteFile(failedMarker, []byte(detail), 0o644); err != nil {
		logrus.WithError(err).Errorf("caught exception writing deployment failed marker file %s", failedMarker)
	}
}
