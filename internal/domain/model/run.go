package model

import "time"

// RunState is a step of the background refresh state machine.
type RunState string

const (
	RunStateIdle       RunState = "idle"
	RunStateValidating RunState = "validating"
	RunStateSyncing    RunState = "syncing"
	RunStatePublishing RunState = "publishing"
	RunStateExpired    RunState = "expired"
)

// RunReport summarizes one scheduled or manually triggered refresh cycle.
type RunReport struct {
	StartedAt          time.Time
	FinishedAt         time.Time
	State              RunState // Idle on completion, Expired if the budget ran out.
	InvalidCredentials []string // Still invalid after the retry, if any.
	Retried            bool
	CollectionsSynced  int
	ItemsSynced        int
	SyncErrors         int
	EntriesSwept       int
}

// Duration returns how long the run took.
func (r RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
