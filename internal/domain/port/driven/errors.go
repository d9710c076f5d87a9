package driven

import "errors"

// Sentinel errors shared by the driven ports. Adapters wrap these so callers
// can classify failures with errors.Is without importing adapter packages.
var (
	// ErrUnauthorized indicates the remote rejected the credential's secret.
	ErrUnauthorized = errors.New("remote rejected credential")

	// ErrTransport indicates a network, timeout, rate-limit or server-side failure.
	ErrTransport = errors.New("remote transport failure")

	// ErrNotFound indicates the remote object no longer exists or is not shared
	// with the integration.
	ErrNotFound = errors.New("remote object not found")

	// ErrSecretStore indicates the secret store failed to complete an operation.
	ErrSecretStore = errors.New("secret store failure")

	// ErrSecretMissing indicates a credential record whose secret cannot be found.
	ErrSecretMissing = errors.New("credential secret missing")

	// ErrEncryptionKeyNotSet is returned by SecretStore operations when
	// NOTIONWIDGETS_SECRET_KEY has not been configured.
	ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set NOTIONWIDGETS_SECRET_KEY")

	// ErrCredentialNotFound indicates the requested credential record does not exist.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrCredentialExists indicates a credential with the same id already exists.
	ErrCredentialExists = errors.New("credential already exists")

	// ErrCollectionNotFound indicates the requested collection record does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrWidgetNotFound indicates the requested widget configuration does not exist.
	ErrWidgetNotFound = errors.New("widget configuration not found")
)
