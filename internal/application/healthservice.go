package application

import (
	"context"

	"github.com/ericfisherdev/notionwidgets/internal/domain/model"
	"github.com/ericfisherdev/notionwidgets/internal/domain/port/driven"
)

// RunSource exposes the scheduler's progress.
type RunSource interface {
	State() model.RunState
	LastRun() (model.RunReport, bool)
}

// HealthSummary is the status view served by the health endpoint.
type HealthSummary struct {
	Credentials int
	Connected   int
	Activated   int
	State       model.RunState
	LastRun     *model.RunReport
}

// HealthService assembles the health view from stored credentials and the
// scheduler. It depends only on port interfaces.
type HealthService struct {
	creds driven.CredentialStore
	runs  RunSource
}

// NewHealthService creates a new HealthService. runs may be nil when no
// scheduler is running.
func NewHealthService(creds driven.CredentialStore, runs RunSource) *HealthService {
	return &HealthService{
		creds: creds,
		runs:  runs,
	}
}

// Summary counts credentials by flag and attaches the scheduler state.
func (s *HealthService) Summary(ctx context.Context) (*HealthSummary, error) {
	creds, err := s.creds.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	summary := &HealthSummary{
		Credentials: len(creds),
		State:       model.RunStateIdle,
	}
	for _, cred := range creds {
		if cred.Connected {
			summary.Connected++
		}
		if cred.Activated {
			summary.Activated++
		}
	}

	if s.runs != nil {
		summary.State = s.runs.State()
		if last, ok := s.runs.LastRun(); ok {
			summary.LastRun = &last
		}
	}

	return summary, nil
}
