package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ericfisherdev/notionwidgets/internal/domain/model"
	"github.com/ericfisherdev/notionwidgets/internal/domain/port/driven"
)

// CredentialService owns the credential lifecycle: creation, secret rotation,
// validation against the remote, activation and deletion. It is the only
// writer of the connected/activated flags.
type CredentialService struct {
	secrets driven.SecretStore
	creds   driven.CredentialStore
	remote  driven.RemoteClient
	changes *ChangeFeed
	ids     IDProvider
	now     func() time.Time
}

// NewCredentialService creates a new CredentialService with all required dependencies.
func NewCredentialService(
	secrets driven.SecretStore,
	creds driven.CredentialStore,
	remote driven.RemoteClient,
	changes *ChangeFeed,
	opts ...Option,
) *CredentialService {
	o := buildOptions(opts)
	return &CredentialService{
		secrets: secrets,
		creds:   creds,
		remote:  remote,
		changes: changes,
		ids:     o.ids,
		now:     o.now,
	}
}

// Create stores the secret under a fresh id and then inserts the credential
// record, disconnected and inactive. If the insert fails the secret is
// removed again so no secret outlives a failed create.
func (s *CredentialService) Create(ctx context.Context, name, secret string) (*model.Credential, error) {
	name = strings.TrimSpace(name)
	secret = strings.TrimSpace(secret)
	if name == "" {
		return nil, fmt.Errorf("create credential: name is required: %w", ErrInvalidInput)
	}
	if secret == "" {
		return nil, fmt.Errorf("create credential: secret is required: %w", ErrInvalidInput)
	}

	id, err := s.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate credential id: %w", err)
	}

	if err := s.secrets.Put(ctx, id, secret); err != nil {
		return nil, secretStoreError("store secret", id, err)
	}

	cred := model.Credential{
		ID:        id,
		Name:      name,
		SecretRef: id,
		CreatedAt: s.now(),
	}
	if err := s.creds.Insert(ctx, cred); err != nil {
		insertErr := fmt.Errorf("insert credential: %w", err)
		if delErr := s.secrets.Delete(ctx, id); delErr != nil {
			slog.Error("secret rollback failed", "credential", id, "error", delErr)
			return nil, errors.Join(insertErr, secretStoreError("roll back secret", id, delErr))
		}
		return nil, insertErr
	}

	slog.Info("credential created", "credential", id, "name", name)
	s.publish(ChangeCredential, id)

	return &cred, nil
}

// Get returns the credential with the given id.
func (s *CredentialService) Get(ctx context.Context, id string) (*model.Credential, error) {
	cred, err := s.creds.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, fmt.Errorf("get credential %q: %w", id, driven.ErrCredentialNotFound)
	}
	return cred, nil
}

// List returns every credential.
func (s *CredentialService) List(ctx context.Context) ([]model.Credential, error) {
	return s.creds.ListAll(ctx)
}

// UpdateSecret replaces the secret and optimistically marks the credential
// connected until the next validation. Activation is unchanged.
func (s *CredentialService) UpdateSecret(ctx context.Context, id, secret string) error {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return fmt.Errorf("update secret: secret is required: %w", ErrInvalidInput)
	}

	cred, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.secrets.Put(ctx, cred.SecretRef, secret); err != nil {
		return secretStoreError("store secret", id, err)
	}

	if err := s.creds.MarkConnected(ctx, id); err != nil {
		return fmt.Errorf("mark credential connected: %w", err)
	}

	slog.Info("credential secret updated", "credential", id)
	s.publish(ChangeCredential, id)

	return nil
}

// Validate checks the credential's secret against the remote and records the
// outcome. A rejected secret returns false with a nil error. Transport
// failures and a missing or unreadable secret also return false and leave the
// credential disconnected and inactive, but report the cause as an error.
func (s *CredentialService) Validate(ctx context.Context, id string) (bool, error) {
	cred, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}

	secret, err := s.secrets.Get(ctx, cred.SecretRef)
	if err != nil {
		slog.Warn("credential secret unreadable", "credential", id, "error", err)
		readErr := secretStoreError("read secret", id, err)
		if markErr := s.markDisconnected(ctx, id); markErr != nil {
			return false, errors.Join(readErr, markErr)
		}
		return false, readErr
	}
	if secret == "" {
		slog.Warn("credential secret missing", "credential", id)
		if markErr := s.markDisconnected(ctx, id); markErr != nil {
			return false, markErr
		}
		return false, fmt.Errorf("validate credential %q: %w", id, driven.ErrSecretMissing)
	}

	identity, remoteErr := s.remote.ValidateIdentity(ctx, secret)
	if remoteErr == nil {
		if err := s.creds.MarkValidated(ctx, id, identity, s.now()); err != nil {
			return false, fmt.Errorf("mark credential validated: %w", err)
		}
		slog.Info("credential validated", "credential", id, "workspace", identity.WorkspaceName)
		s.publish(ChangeCredential, id)
		return true, nil
	}

	if err := s.markDisconnected(ctx, id); err != nil {
		return false, errors.Join(remoteErr, err)
	}

	if errors.Is(remoteErr, driven.ErrUnauthorized) {
		slog.Warn("credential rejected by remote", "credential", id, "demoted", cred.Activated)
		return false, nil
	}

	slog.Warn("credential validation failed", "credential", id, "demoted", cred.Activated, "error", remoteErr)
	return false, fmt.Errorf("validate credential %q: %w", id, remoteErr)
}

// ValidateAll validates every stored credential one at a time and returns the
// ids that did not validate. Individual failures are logged, not returned.
func (s *CredentialService) ValidateAll(ctx context.Context) ([]string, error) {
	creds, err := s.creds.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}

	invalid := []string{}
	for _, cred := range creds {
		if ctx.Err() != nil {
			return invalid, ctx.Err()
		}

		ok, err := s.Validate(ctx, cred.ID)
		if err != nil {
			slog.Warn("validate failed", "credential", cred.ID, "error", err)
		}
		if !ok {
			invalid = append(invalid, cred.ID)
		}
	}

	slog.Info("credentials validated", "total", len(creds), "invalid", len(invalid))
	return invalid, nil
}

// ToggleActivation flips activation for a connected credential. For a
// disconnected credential it is a no-op. Returns the credential as stored
// afterwards.
func (s *CredentialService) ToggleActivation(ctx context.Context, id string) (*model.Credential, error) {
	changed, err := s.creds.ToggleActivation(ctx, id)
	if err != nil {
		return nil, err
	}

	cred, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if changed {
		slog.Info("credential activation toggled", "credential", id, "activated", cred.Activated)
		s.publish(ChangeCredential, id)
	} else {
		slog.Debug("activation toggle ignored for disconnected credential", "credential", id)
	}

	return cred, nil
}

// Delete removes the credential record and then its secret. Both steps are
// always attempted; failures are joined. An interrupted delete leaves at
// worst an orphaned secret, which Reconcile removes.
func (s *CredentialService) Delete(ctx context.Context, id string) error {
	secretRef := id
	cred, err := s.creds.Get(ctx, id)
	if err != nil {
		return err
	}
	if cred != nil {
		secretRef = cred.SecretRef
	}

	var recordErr error
	if cred == nil {
		recordErr = fmt.Errorf("delete credential %q: %w", id, driven.ErrCredentialNotFound)
	} else if err := s.creds.Delete(ctx, id); err != nil {
		recordErr = fmt.Errorf("delete credential record: %w", err)
	}

	var secretErr error
	if err := s.secrets.Delete(ctx, secretRef); err != nil {
		secretErr = secretStoreError("delete secret", id, err)
	}

	if recordErr == nil {
		slog.Info("credential deleted", "credential", id)
		s.publish(ChangeCredentialDeleted, id)
	}

	return errors.Join(recordErr, secretErr)
}

// Reconcile removes secrets that no credential record references and
// returns the removed ids. Records whose secret is missing are logged; they
// surface as invalid on their next validation.
func (s *CredentialService) Reconcile(ctx context.Context) ([]string, error) {
	secretIDs, err := s.secrets.ListIDs(ctx)
	if err != nil {
		return nil, secretStoreError("list secrets", "", err)
	}

	creds, err := s.creds.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}

	referenced := make(map[string]bool, len(creds))
	for _, cred := range creds {
		referenced[cred.SecretRef] = true
	}

	stored := make(map[string]bool, len(secretIDs))
	removed := []string{}
	var errs []error
	for _, id := range secretIDs {
		stored[id] = true
		if referenced[id] {
			continue
		}
		if err := s.secrets.Delete(ctx, id); err != nil {
			errs = append(errs, secretStoreError("delete orphaned secret", id, err))
			continue
		}
		removed = append(removed, id)
	}

	for _, cred := range creds {
		if !stored[cred.SecretRef] {
			slog.Warn("credential has no stored secret", "credential", cred.ID)
		}
	}

	slog.Info("credential reconciliation complete", "secrets", len(secretIDs), "removed", len(removed))
	return removed, errors.Join(errs...)
}

func (s *CredentialService) markDisconnected(ctx context.Context, id string) error {
	if err := s.creds.MarkDisconnected(ctx, id); err != nil {
		return fmt.Errorf("mark credential disconnected: %w", err)
	}
	s.publish(ChangeCredential, id)
	return nil
}

func (s *CredentialService) publish(kind ChangeKind, id string) {
	s.changes.Publish(ChangeEvent{Kind: kind, CredentialID: id, IDs: []string{id}, At: s.now()})
}

// secretStoreError wraps a secret store failure so callers can match both
// driven.ErrSecretStore and the underlying cause.
func secretStoreError(op, id string, err error) error {
	if id == "" {
		return fmt.Errorf("%s: %w: %w", op, driven.ErrSecretStore, err)
	}
	return fmt.Errorf("%s for %q: %w: %w", op, id, driven.ErrSecretStore, err)
}
