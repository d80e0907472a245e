// Package scanner implements the scan-and-reconcile engine: it walks a
// deployment directory for marker files, turns them into deploy, replace,
// redeploy, and undeploy tasks, and drives those tasks against the
// management facility as retried composite operations.
package scanner

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sys/unix"

	"github.com/barreiro/wildfly-core/internal/domain"
)

// Scanner watches one deployment directory and reconciles its marker state
// against the management facility. At most one reconciliation pass runs at
// a time.
type Scanner struct {
	dir    string
	filter PathFilter

	management domain.ManagementClient
	content    domain.ContentStore
	recorder   domain.ScanRecorder
	clock      clock.Clock

	registry *Registry

	// scanLock serializes passes. Weighted(1) gives the interruptible
	// acquisition the scan needs: a cancelled context aborts a queued
	// pass instead of blocking behind a running one.
	scanLock *semaphore.Weighted

	mu           sync.Mutex // guards enabled, interval, stopSchedule
	enabled      bool
	interval     time.Duration
	stopSchedule func()
}

// Option configures optional collaborators on a Scanner.
type Option func(*Scanner)

// WithFilter replaces the permissive default path filter.
func WithFilter(f PathFilter) Option {
	return func(s *Scanner) { s.filter = f }
}

// WithRecorder enables scan history recording.
func WithRecorder(r domain.ScanRecorder) Option {
	return func(s *Scanner) { s.recorder = r }
}

// WithClock replaces the wall clock used for scheduling.
func WithClock(c clock.Clock) Option {
	return func(s *Scanner) { s.clock = c }
}

// New builds a scanner for dir and seeds its registry from the .deployed
// markers found there, pruning any marker the facility has no registration
// for. The directory must exist, be a directory, and be writable; a
// violation is a configuration error and the scanner must not start.
func New(ctx context.Context, dir string, interval time.Duration, management domain.ManagementClient, content domain.ContentStore, opts ...Option) (*Scanner, error) {
	if management == nil {
		return nil, fmt.Errorf("%w: nil management client", domain.ErrInvalidArgument)
	}
	if content == nil {
		return nil, fmt.Errorf("%w: nil content store", domain.ErrInvalidArgument)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: deployment directory %s does not exist", domain.ErrInvalidArgument, dir)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", domain.ErrInvalidArgument, dir)
	}
	if err := unix.Access(dir, unix.W_OK); err != nil {
		return nil, fmt.Errorf("%w: %s is not writable", domain.ErrInvalidArgument, dir)
	}

	s := &Scanner{
		dir:        dir,
		interval:   interval,
		filter:     AcceptAll,
		management: management,
		content:    content,
		clock:      clock.NewClock(),
		registry:   NewRegistry(),
		scanLock:   semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(s)
	}

	names, err := management.DeploymentNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("query registered deployments: %w", err)
	}
	if err := s.registry.Load(dir, toSet(names)); err != nil {
		return nil, fmt.Errorf("establish deployed content list: %w", err)
	}
	return s, nil
}

// Start enables scanning and arms the schedule. Starting a started scanner
// is a no-op.
func (s *Scanner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enabled {
		return
	}
	s.enabled = true
	s.armLocked()
	logrus.Infof("started deployment scanner for directory %s", s.dir)
}

// Stop disables future scheduled passes. A pass already holding the scan
// lock completes; a pass queued behind it observes the disabled flag and
// exits without scanning.
func (s *Scanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = false
	s.disarmLocked()
}

// Enabled reports whether scheduled scanning is active.
func (s *Scanner) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// SetScanInterval changes the scan cadence. A pending scheduled invocation
// is cancelled and the schedule re-armed; a running pass is never
// interrupted.
func (s *Scanner) SetScanInterval(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if interval != s.interval {
		s.disarmLocked()
	}
	s.interval = interval
	if s.enabled && s.stopSchedule == nil {
		s.armLocked()
	}
}

func (s *Scanner) armLocked() {
	run := func() {
		// A scheduled pass must never kill the schedule: failures are
		// logged and the next interval proceeds.
		defer func() {
			if r := recover(); r != nil {
				logrus.Errorf("scan of %s panicked: %v", s.dir, r)
			}
		}()
		if err := s.Scan(context.Background()); err != nil {
			logrus.WithError(err).Errorf("scan of %s failed", s.dir)
		}
	}
	s.stopSchedule = schedule(s.clock, run, s.interval)
}

func (s *Scanner) disarmLocked() {
	if s.stopSchedule != nil {
		s.stopSchedule()
		s.stopSchedule = nil
	}
}

// Scan performs one reconciliation pass. Passes are serialized; a context
// cancellation while waiting for the lock aborts cleanly with no side
// effects. A disabled scanner exits without scanning, which is re-checked
// under the lock so that a stop racing a queued pass wins.
func (s *Scanner) Scan(ctx context.Context) error {
	if err := s.scanLock.Acquire(ctx, 1); err != nil {
		logrus.WithError(err).Debug("scan aborted while waiting for the scan lock")
		return nil
	}
	defer s.scanLock.Release(1)

	if !s.Enabled() {
		return nil
	}

	logrus.Debugf("scanning directory %s for deployment content changes", s.dir)

	names, err := s.management.DeploymentNames(ctx)
	if err != nil {
		return fmt.Errorf("query registered deployments: %w", err)
	}
	registered := toSet(names)

	toRemove := s.registry.Names()
	tasks := s.scanDirectory(s.dir, registered, toRemove)

	// Anything we count as deployed that the walk did not observe is gone.
	for missing := range toRemove {
		tasks = append(tasks, &undeployTask{scanner: s, deploymentName: missing})
	}

	if len(tasks) == 0 {
		logrus.Debug("scan complete")
		return nil
	}

	scanID := uuid.NewString()
	pendingOps := make([]domain.Operation, len(tasks))
	for i, task := range tasks {
		pendingOps[i] = task.buildOperation(ctx)
		logrus.Debugf("deployment scan of [%s] found update action [%s %s]", s.dir, task.kind(), task.name())
	}
	pendingTasks := tasks

	// Submit the batch; cancelled operations are carried, in order and
	// together with their owning task, into the next round. The loop ends
	// only when every task has resolved to success or failure.
	for len(pendingOps) > 0 {
		outcomes, err := s.management.Execute(ctx, domain.CompositeOperation{
			ID:         uuid.NewString(),
			Operations: pendingOps,
		})
		if err != nil {
			return fmt.Errorf("execute composite operation: %w", err)
		}
		if len(outcomes) != len(pendingOps) {
			return fmt.Errorf("management facility returned %d outcomes for %d operations", len(outcomes), len(pendingOps))
		}

		var retryOps []domain.Operation
		var retryTasks []scannerTask
		for i, outcome := range outcomes {
			task := pendingTasks[i]
			switch outcome.Kind {
			case domain.OutcomeSuccess:
				task.onSuccess()
				s.record(ctx, scanID, task, outcome)
			case domain.OutcomeCancelled:
				retryOps = append(retryOps, pendingOps[i])
				retryTasks = append(retryTasks, task)
			default:
				task.onFailure(outcome.FailureDetail)
				s.record(ctx, scanID, task, outcome)
			}
		}
		if len(retryOps) > 0 {
			logrus.WithField("scan_id", scanID).Debugf("resubmitting %d cancelled operations", len(retryOps))
		}
		pendingOps, pendingTasks = retryOps, retryTasks
	}

	logrus.Debug("scan complete")
	return nil
}

func (s *Scanner) record(ctx context.Context, scanID string, task scannerTask, outcome domain.Outcome) {
	if s.recorder == nil {
		return
	}
	err := s.recorder.Record(ctx, domain.ScanRecord{
		ScanID:     scanID,
		Deployment: task.name(),
		Action:     task.kind(),
		Outcome:    outcome.Kind,
		Detail:     outcome.FailureDetail,
		At:         time.Now(),
	})
	if err != nil {
		logrus.WithError(err).Warn("cannot record scan outcome")
	}
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set
}
