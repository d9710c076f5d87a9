// Package application contains use-case orchestration services.
package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Errors returned by application services for caller mistakes.
var (
	// ErrInvalidInput indicates a request argument failed validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrCredentialInactive indicates a sync was requested for a credential
	// that is not both connected and activated.
	ErrCredentialInactive = errors.New("credential is not connected and activated")
)

// IDProvider issues identifiers for newly created records.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return uuidProvider{}
}

func (uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// Option customizes a service's collaborators. Services ignore options that
// do not apply to them.
type Option func(*options)

type options struct {
	now  func() time.Time
	ids  IDProvider
	wait func(ctx context.Context, d time.Duration) error
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithIDProvider replaces the UUIDv7 id generator.
func WithIDProvider(ids IDProvider) Option {
	return func(o *options) { o.ids = ids }
}

// WithWait replaces the scheduler's back-off sleep.
func WithWait(wait func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) { o.wait = wait }
}

func buildOptions(opts []Option) options {
	o := options{
		now:  time.Now,
		ids:  NewUUIDProvider(),
		wait: sleepContext,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// sleepContext waits for d or until ctx is done, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
