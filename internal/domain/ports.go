package domain

import (
	"context"
	"io"
	"time"

	"github.com/opencontainers/go-digest"
)

// ManagementClient is the port to the management execution facility. The
// scanner submits composite operations through it and queries the set of
// deployment names the facility currently has registered.
type ManagementClient interface {
	Execute(ctx context.Context, op CompositeOperation) ([]Outcome, error)
	DeploymentNames(ctx context.Context) ([]string, error)
}

// ContentStore accepts artifact bytes and returns the content hash that
// subsequent deploy and replace steps reference.
type ContentStore interface {
	Add(ctx context.Context, name string, content io.Reader) (digest.Digest, error)
}

// ScanRecord is one resolved task outcome, kept for operator forensics.
type ScanRecord struct {
	ScanID     string
	Deployment string
	Action     Action
	Outcome    OutcomeKind
	Detail     string
	At         time.Time
}

// ScanRecorder persists scan outcomes. Recording is best-effort: the scanner
// logs and continues when a recorder call fails.
type ScanRecorder interface {
	Record(ctx context.Context, rec ScanRecord) error
}
