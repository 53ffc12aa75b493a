package store

import (
	"context"
	"errors"
	"time"

	"github.com/kiranshivaraju/gatekeeper/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the audit ledger for job runs. It records lifecycle transitions
// only; nothing in it is ever used to resume or replay a job.
type Store interface {
	Ping(ctx context.Context) error

	CreateRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, handle string) (*models.Run, error)
	UpdateRunStatus(ctx context.Context, handle string, status string, opts ...RunUpdateOption) error
}

type runUpdateParams struct {
	StartedAt  *time.Time
	FinishedAt *time.Time
}

type RunUpdateOption func(*runUpdateParams)

func WithStartedAt(t time.Time) RunUpdateOption {
	return func(p *runUpdateParams) {
		p.StartedAt = &t
	}
}

func WithFinishedAt(t time.Time) RunUpdateOption {
	return func(p *runUpdateParams) {
		p.FinishedAt = &t
	}
}

// NopStore discards every record. It is used when no database is configured.
type NopStore struct{}

func (NopStore) Ping(context.Context) error {
	return nil
}

func (NopStore) CreateRun(context.Context, *models.Run) error {
	return nil
}

func (NopStore) GetRun(context.Context, string) (*models.Run, error) {
	return nil, ErrNotFound
}

func (NopStore) UpdateRunStatus(context.Context, string, string, ...RunUpdateOption) error {
	return nil
}

var _ Store = NopStore{}
