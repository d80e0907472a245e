package scanner

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/barreiro/wildfly-core/internal/domain"
)

type fakeManagement struct {
	mu         sync.Mutex
	names      []string
	namesCalls int
	scripted   [][]domain.Outcome
	executed   []domain.CompositeOperation
}

func (f *fakeManagement) DeploymentNames(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.namesCalls++
	return f.names, nil
}

func (f *fakeManagement) Execute(_ context.Context, op domain.CompositeOperation) ([]domain.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, op)
	if len(f.scripted) == 0 {
		outcomes := make([]domain.Outcome, len(op.Operations))
		for i := range outcomes {
			outcomes[i] = domain.Outcome{Kind: domain.OutcomeSuccess}
		}
		return outcomes, nil
	}
	outcomes := f.scripted[0]
	f.scripted = f.scripted[1:]
	return outcomes, nil
}

type fakeContentStore struct {
	err   error
	added []string
}

func (f *fakeContentStore) Add(_ context.Context, name string, content io.Reader) (digest.Digest, error) {
	if f.err != nil {
		return "", f.err
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return "", err
	}
	f.added = append(f.added, name)
	return digest.FromBytes(data), nil
}

type harness struct {
	dir        string
	management *fakeManagement
	content    *fakeContentStore
	scanner    *Scanner
}

// setup builds a scanner over dir with the given names registered remotely.
// Scans in tests are driven directly, so the scanner is marked enabled
// without arming the schedule.
func setup(t *testing.T, dir string, registered ...string) *harness {
	t.Helper()
	m := &fakeManagement{names: registered}
	c := &fakeContentStore{}
	s, err := New(context.Background(), dir, time.Hour, m, c)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.enabled = true
	return &harness{dir: dir, management: m, content: c, scanner: s}
}

func (h *harness) scan(t *testing.T) {
	t.Helper()
	if err := h.scanner.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestScan_NoChangesIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "app.war"), "payload")
	writeFile(t, filepath.Join(dir, "app.war.deployed"), "app.war")

	h := setup(t, dir, "app.war")

	h.scan(t)
	h.scan(t)

	if len(h.management.executed) != 0 {
		t.Fatalf("expected no operations for an unchanged tree, got %d", len(h.management.executed))
	}
	if !exists(filepath.Join(dir, "app.war.deployed")) {
		t.Error("deployed marker should be untouched")
	}
}

func TestScan_DeployLifecycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "app.war"), "payload")
	writeFile(t, filepath.Join(dir, "app.war.dodeploy"), "")

	h := setup(t, dir)
	h.scan(t)

	if len(h.management.executed) != 1 {
		t.Fatalf("expected 1 composite submission, got %d", len(h.management.executed))
	}
	ops := h.management.executed[0].Operations
	if len(ops) != 1 {
		t.Fatalf("expected 1 operation, got %d", len(ops))
	}
	steps := ops[0].Steps
	if len(steps) != 2 {
		t.Fatalf("expected add-content + deploy, got %d steps", len(steps))
	}
	if steps[0].Action != domain.ActionAddContent || steps[1].Action != domain.ActionDeploy {
		t.Errorf("unexpected step actions: %s, %s", steps[0].Action, steps[1].Action)
	}
	if want := digest.FromBytes([]byte("payload")); steps[0].Hash != want {
		t.Errorf("Hash = %s, want %s", steps[0].Hash, want)
	}

	if exists(filepath.Join(dir, "app.war.dodeploy")) {
		t.Error(".dodeploy marker should be consumed")
	}
	marker := filepath.Join(dir, "app.war.deployed")
	content, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf(".deployed marker missing: %v", err)
	}
	if string(content) != "app.war" {
		t.Errorf(".deployed content = %q, want %q", content, "app.war")
	}

	reg, ok := h.scanner.registry.Get("app.war")
	if !ok {
		t.Fatal("registry should contain app.war")
	}
	info, err := os.Stat(marker)
	if err != nil {
		t.Fatal(err)
	}
	if !reg.LastModified.Equal(info.ModTime()) {
		t.Errorf("registry mtime = %v, want marker mtime %v", reg.LastModified, info.ModTime())
	}
}

func TestScan_ReplaceWhenAlreadyRegistered(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "app.war"), "payload")
	writeFile(t, filepath.Join(dir, "app.war.dodeploy"), "")

	h := setup(t, dir, "app.war")
	h.scan(t)

	if len(h.management.executed) != 1 {
		t.Fatalf("expected 1 composite submission, got %d", len(h.management.executed))
	}
	steps := h.management.executed[0].Operations[0].Steps
	if len(steps) != 1 || steps[0].Action != domain.ActionFullReplace {
		t.Fatalf("expected a single full-replace step, got %v", steps)
	}
	if want := digest.FromBytes([]byte("payload")); steps[0].Hash != want {
		t.Errorf("Hash = %s, want %s", steps[0].Hash, want)
	}
}

func TestScan_DeployFailureWritesFailedMarker(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "app.war"), "payload")
	writeFile(t, filepath.Join(dir, "app.war.dodeploy"), "")

	h := setup(t, dir)
	h.management.scripted = [][]domain.Outcome{
		{{Kind: domain.OutcomeFailed, FailureDetail: "missing datasource java:/ExampleDS"}},
	}
	h.scan(t)

	if exists(filepath.Join(dir, "app.war.dodeploy")) {
		t.Error(".dodeploy marker should be consumed on failure")
	}
	if exists(filepath.Join(dir, "app.war.deployed")) {
		t.Error(".deployed marker should not exist after a failure")
	}
	content, err := os.ReadFile(filepath.Join(dir, "app.war.faileddeploy"))
	if err != nil {
		t.Fatalf(".faileddeploy marker missing: %v", err)
	}
	if string(content) != "missing datasource java:/ExampleDS" {
		t.Errorf(".faileddeploy content = %q", content)
	}
	if _, ok := h.scanner.registry.Get("app.war"); ok {
		t.Error("registry should have no entry after a failed deploy")
	}
}

func TestNew_PrunesOrphanedDeployedMarkers(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "app.war.deployed"), "app.war")

	h := setup(t, dir) // nothing registered remotely

	if exists(filepath.Join(dir, "app.war.deployed")) {
		t.Error("orphaned .deployed marker should be deleted during load")
	}
	if _, ok := h.scanner.registry.Get("app.war"); ok {
		t.Error("no registry entry should be created for an orphaned marker")
	}
}

func TestScan_MissingArtifactBecomesUndeploy(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "app.war.deployed"), "app.war")

	h := setup(t, dir, "app.war")
	if _, ok := h.scanner.registry.Get("app.war"); !ok {
		t.Fatal("registry should contain app.war after load")
	}

	if err := os.Remove(filepath.Join(dir, "app.war.deployed")); err != nil {
		t.Fatal(err)
	}
	h.scan(t)

	if len(h.management.executed) != 1 {
		t.Fatalf("expected 1 composite submission, got %d", len(h.management.executed))
	}
	steps := h.management.executed[0].Operations[0].Steps
	if len(steps) != 2 || steps[0].Action != domain.ActionUndeploy || steps[1].Action != domain.ActionRemove {
		t.Fatalf("expected undeploy + remove, got %v", steps)
	}
	if _, ok := h.scanner.registry.Get("app.war"); ok {
		t.Error("registry entry should be removed after a successful undeploy")
	}
}

func TestScan_FailedMarkerSuppressesUndeploy(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "app.war.deployed"), "app.war")

	h := setup(t, dir, "app.war")

	// Simulate a later failed redeploy attempt recorded by an operator
	// tool: the deployed marker is gone but a failure marker remains.
	if err := os.Remove(filepath.Join(dir, "app.war.deployed")); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "app.war.faileddeploy"), "boom")

	h.scan(t)

	if len(h.management.executed) != 0 {
		t.Fatalf("a .faileddeploy marker must suppress undeploy, got %d submissions", len(h.management.executed))
	}
}

func TestScan_RetryOnCancelledOutcome(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.war", "b.war", "c.war"} {
		writeFile(t, filepath.Join(dir, name), "content of "+name)
		writeFile(t, filepath.Join(dir, name+".dodeploy"), "")
	}

	h := setup(t, dir)
	h.management.scripted = [][]domain.Outcome{
		{
			{Kind: domain.OutcomeSuccess},
			{Kind: domain.OutcomeCancelled},
			{Kind: domain.OutcomeSuccess},
		},
		{
			{Kind: domain.OutcomeSuccess},
		},
	}
	h.scan(t)

	if len(h.management.executed) != 2 {
		t.Fatalf("expected 2 submission rounds, got %d", len(h.management.executed))
	}
	if got := len(h.management.executed[0].Operations); got != 3 {
		t.Fatalf("first round should carry 3 operations, got %d", got)
	}
	retried := h.management.executed[1].Operations
	if len(retried) != 1 {
		t.Fatalf("second round should carry 1 operation, got %d", len(retried))
	}
	if retried[0].Steps[0].Deployment != "b.war" {
		t.Errorf("retried operation is for %q, want b.war", retried[0].Steps[0].Deployment)
	}

	for _, name := range []string{"a.war", "b.war", "c.war"} {
		if !exists(filepath.Join(dir, name+".deployed")) {
			t.Errorf("%s should be marked deployed", name)
		}
		if _, ok := h.scanner.registry.Get(name); !ok {
			t.Errorf("registry should contain %s", name)
		}
	}
}

func TestScan_TouchToRedeploy(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "app.war.deployed")
	writeFile(t, marker, "app.war")

	h := setup(t, dir, "app.war")

	touched := time.Now().Add(time.Hour)
	if err := os.Chtimes(marker, touched, touched); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(marker)
	if err != nil {
		t.Fatal(err)
	}

	h.scan(t)

	if len(h.management.executed) != 1 {
		t.Fatalf("expected 1 composite submission, got %d", len(h.management.executed))
	}
	steps := h.management.executed[0].Operations[0].Steps
	if len(steps) != 1 || steps[0].Action != domain.ActionRedeploy {
		t.Fatalf("expected a single redeploy step, got %v", steps)
	}

	reg, ok := h.scanner.registry.Get("app.war")
	if !ok {
		t.Fatal("registry should still contain app.war")
	}
	if !reg.LastModified.Equal(info.ModTime()) {
		t.Errorf("registry mtime = %v, want touched mtime %v", reg.LastModified, info.ModTime())
	}
}

func TestScan_RedeployFailureLeavesStateForRetry(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "app.war.deployed")
	writeFile(t, marker, "app.war")

	h := setup(t, dir, "app.war")
	loaded, _ := h.scanner.registry.Get("app.war")

	touched := time.Now().Add(time.Hour)
	if err := os.Chtimes(marker, touched, touched); err != nil {
		t.Fatal(err)
	}
	h.management.scripted = [][]domain.Outcome{
		{{Kind: domain.OutcomeFailed, FailureDetail: "redeploy rejected"}},
	}
	h.scan(t)

	if !exists(marker) {
		t.Error(".deployed marker must survive a failed redeploy")
	}
	if exists(filepath.Join(dir, "app.war.faileddeploy")) {
		t.Error("no .faileddeploy marker is written for a failed redeploy")
	}
	reg, ok := h.scanner.registry.Get("app.war")
	if !ok {
		t.Fatal("registry entry must survive a failed redeploy")
	}
	if !reg.LastModified.Equal(loaded.LastModified) {
		t.Error("registry mtime must stay at the last committed value so the next pass retries")
	}

	// The mismatch is still observable, so the next pass queues it again.
	h.scan(t)
	if len(h.management.executed) != 2 {
		t.Fatalf("expected the redeploy to be requeued, got %d submissions", len(h.management.executed))
	}
}

func TestScan_StrayDoDeployWithoutArtifact(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "app.war.dodeploy"), "")

	h := setup(t, dir)
	h.scan(t)

	if exists(filepath.Join(dir, "app.war.dodeploy")) {
		t.Error("stray .dodeploy marker should be deleted")
	}
	if len(h.management.executed) != 0 {
		t.Fatalf("no operation should be submitted for a missing artifact, got %d", len(h.management.executed))
	}
}

func TestScan_UploadFailureSubmitsEmptyHash(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "app.war"), "payload")
	writeFile(t, filepath.Join(dir, "app.war.dodeploy"), "")

	h := setup(t, dir)
	h.content.err = errors.New("disk full")
	h.management.scripted = [][]domain.Outcome{
		{{Kind: domain.OutcomeFailed, FailureDetail: "no content with empty hash"}},
	}
	h.scan(t)

	if len(h.management.executed) != 1 {
		t.Fatalf("the operation should still be submitted, got %d submissions", len(h.management.executed))
	}
	if hash := h.management.executed[0].Operations[0].Steps[0].Hash; hash != "" {
		t.Errorf("Hash = %q, want empty after an upload failure", hash)
	}
	if !exists(filepath.Join(dir, "app.war.faileddeploy")) {
		t.Error("the remote failure should be recorded via the failed marker")
	}
}

func TestScan_RecursesIntoPlainButNotArchiveDirectories(t *testing.T) {
	dir := t.TempDir()

	nested := filepath.Join(dir, "apps")
	if err := os.Mkdir(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(nested, "inner.war"), "inner")
	writeFile(t, filepath.Join(nested, "inner.war.dodeploy"), "")

	exploded := filepath.Join(dir, "exploded.war")
	if err := os.Mkdir(exploded, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(exploded, "skipped.war"), "skipped")
	writeFile(t, filepath.Join(exploded, "skipped.war.dodeploy"), "")

	h := setup(t, dir)
	h.scan(t)

	if len(h.management.executed) != 1 {
		t.Fatalf("expected 1 composite submission, got %d", len(h.management.executed))
	}
	ops := h.management.executed[0].Operations
	if len(ops) != 1 || ops[0].Steps[0].Deployment != "inner.war" {
		t.Fatalf("only the nested plain directory should be scanned, got %v", ops)
	}
	if !exists(filepath.Join(exploded, "skipped.war.dodeploy")) {
		t.Error("markers inside archive-suffixed directories must not be consumed")
	}
}

func TestScan_FilterExcludesEntries(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".hidden.war"), "payload")
	writeFile(t, filepath.Join(dir, ".hidden.war.dodeploy"), "")

	m := &fakeManagement{}
	s, err := New(context.Background(), dir, time.Hour, m, &fakeContentStore{}, WithFilter(IgnoreHidden))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.enabled = true

	if err := s.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(m.executed) != 0 {
		t.Fatalf("filtered entries must be invisible to the walk, got %d submissions", len(m.executed))
	}
}

func TestScan_AbortsCleanlyWhenLockWaitCancelled(t *testing.T) {
	dir := t.TempDir()
	h := setup(t, dir)

	// Hold the scan lock so the pass has to wait, then cancel the wait.
	if err := h.scanner.scanLock.Acquire(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	defer h.scanner.scanLock.Release(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.scanner.Scan(ctx); err != nil {
		t.Fatalf("a cancelled lock wait is a clean abort, got error: %v", err)
	}
	if h.management.namesCalls != 1 {
		t.Errorf("an aborted scan must have no side effects, names queried %d times", h.management.namesCalls)
	}
}

func TestScan_SkipsWhenDisabled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "app.war"), "payload")
	writeFile(t, filepath.Join(dir, "app.war.dodeploy"), "")

	h := setup(t, dir)
	h.scanner.enabled = false
	h.scan(t)

	// Only the constructor queried the facility.
	if h.management.namesCalls != 1 {
		t.Errorf("a disabled scanner must not scan, names queried %d times", h.management.namesCalls)
	}
	if len(h.management.executed) != 0 {
		t.Errorf("a disabled scanner must not submit, got %d submissions", len(h.management.executed))
	}
}

func TestNew_ValidatesConfiguration(t *testing.T) {
	dir := t.TempDir()
	m := &fakeManagement{}
	c := &fakeContentStore{}

	if _, err := New(context.Background(), dir, time.Hour, nil, c); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("nil management client: got %v, want ErrInvalidArgument", err)
	}
	if _, err := New(context.Background(), dir, time.Hour, m, nil); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("nil content store: got %v, want ErrInvalidArgument", err)
	}
	if _, err := New(context.Background(), filepath.Join(dir, "missing"), time.Hour, m, c); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("missing directory: got %v, want ErrInvalidArgument", err)
	}

	file := filepath.Join(dir, "plain")
	writeFile(t, file, "")
	if _, err := New(context.Background(), file, time.Hour, m, c); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("non-directory: got %v, want ErrInvalidArgument", err)
	}
}

func TestScan_SuccessClearsPreviousFailureMarker(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "app.war"), "payload")
	writeFile(t, filepath.Join(dir, "app.war.dodeploy"), "")
	writeFile(t, filepath.Join(dir, "app.war.faileddeploy"), "previous failure")

	h := setup(t, dir)
	h.scan(t)

	if exists(filepath.Join(dir, "app.war.faileddeploy")) {
		t.Error("a successful deploy must clear the stale failure marker")
	}
	if !exists(filepath.Join(dir, "app.war.deployed")) {
		t.Error(".deployed marker should exist after success")
	}
}
