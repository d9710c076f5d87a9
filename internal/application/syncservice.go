package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ericfisherdev/notionwidgets/internal/domain/model"
	"github.com/ericfisherdev/notionwidgets/internal/domain/port/driven"
)

// SyncConfig bounds the work a SyncService does per call.
type SyncConfig struct {
	PageSize    int // Items requested per query page, 1..100.
	MaxPages    int // Query pages followed per collection.
	Concurrency int // Parallel remote fetches.
}

// SyncReport summarizes one SyncActive pass.
type SyncReport struct {
	Credentials int
	Collections int
	Items       int
	Errors      int
}

// SyncService mirrors remote collections and items into the persistent
// store. Remote fetches may run in parallel; every store write happens on
// the calling goroutine, so upserts reach the single store writer one at a
// time.
type SyncService struct {
	creds       driven.CredentialStore
	secrets     driven.SecretStore
	collections driven.CollectionStore
	items       driven.ItemStore
	widgets     driven.WidgetConfigStore
	remote      driven.RemoteClient
	changes     *ChangeFeed
	cfg         SyncConfig
	now         func() time.Time
}

// NewSyncService creates a new SyncService with all required dependencies.
func NewSyncService(
	creds driven.CredentialStore,
	secrets driven.SecretStore,
	collections driven.CollectionStore,
	items driven.ItemStore,
	widgets driven.WidgetConfigStore,
	remote driven.RemoteClient,
	changes *ChangeFeed,
	cfg SyncConfig,
	opts ...Option,
) *SyncService {
	if cfg.PageSize <= 0 || cfg.PageSize > 100 {
		cfg.PageSize = 100
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	o := buildOptions(opts)
	return &SyncService{
		creds:       creds,
		secrets:     secrets,
		collections: collections,
		items:       items,
		widgets:     widgets,
		remote:      remote,
		changes:     changes,
		cfg:         cfg,
		now:         o.now,
	}
}

// SyncCollections lists the collections visible to the credential, fetches
// each one's details and upserts them by id. A collection whose detail fetch
// fails is logged and skipped; the listing itself failing fails the call.
// The returned collections are read back from the store and so carry their
// local widget fields. A collection another credential synced first keeps
// that owner.
func (s *SyncService) SyncCollections(ctx context.Context, credentialID string) ([]model.RemoteCollection, error) {
	cred, secret, err := s.usableCredential(ctx, credentialID)
	if err != nil {
		return nil, err
	}

	summaries, err := s.remote.ListCollections(ctx, secret)
	if err != nil {
		return nil, fmt.Errorf("list collections for %q: %w", cred.ID, err)
	}

	fetched := make([]*model.RemoteCollection, len(summaries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, summary := range summaries {
		g.Go(func() error {
			coll, err := s.remote.GetCollection(gctx, secret, summary.ID)
			if err != nil {
				logFetchFailure("collection", summary.ID, cred.ID, err)
				return nil
			}
			fetched[i] = &coll
			return nil
		})
	}
	_ = g.Wait()

	syncedAt := s.now()
	var ids []string
	for _, coll := range fetched {
		if coll == nil {
			continue
		}
		coll.CredentialID = cred.ID
		coll.LastSyncedAt = syncedAt

		if err := s.collections.Upsert(ctx, *coll); err != nil {
			slog.Error("collection upsert failed", "collection", coll.ID, "credential", cred.ID, "error", err)
			continue
		}
		ids = append(ids, coll.ID)
	}

	result := make([]model.RemoteCollection, 0, len(ids))
	for _, id := range ids {
		stored, err := s.collections.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("reload collection %q: %w", id, err)
		}
		if stored != nil {
			result = append(result, *stored)
		}
	}

	slog.Info("collections synced",
		"credential", cred.ID,
		"listed", len(summaries),
		"synced", len(result),
		"skipped", len(summaries)-len(result),
	)

	if len(ids) > 0 {
		s.changes.Publish(ChangeEvent{Kind: ChangeCollections, CredentialID: cred.ID, IDs: ids, At: syncedAt})
	}

	return result, nil
}

// SyncItems fetches the items of one collection, following query cursors up
// to the configured page limit, derives their fields and upserts them in one
// batch. pageSize <= 0 selects the configured page size.
func (s *SyncService) SyncItems(ctx context.Context, credentialID, collectionID string, pageSize int) ([]model.RemoteItem, error) {
	cred, secret, err := s.usableCredential(ctx, credentialID)
	if err != nil {
		return nil, err
	}

	coll, err := s.collections.Get(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	if coll == nil {
		return nil, fmt.Errorf("sync items of %q: %w", collectionID, driven.ErrCollectionNotFound)
	}

	items, err := s.fetchItems(ctx, cred.ID, secret, collectionID, pageSize)
	if err != nil {
		return nil, err
	}

	if err := s.storeItems(ctx, cred.ID, collectionID, items); err != nil {
		return nil, err
	}

	return items, nil
}

// SyncActive refreshes every activated credential: its collections, then the
// items of its widget-enabled collections and of collections referenced by a
// widget configuration. Item fetches run in parallel; failures for one
// credential or collection are counted and skipped.
func (s *SyncService) SyncActive(ctx context.Context) (SyncReport, error) {
	var report SyncReport

	creds, err := s.creds.ListActivated(ctx)
	if err != nil {
		return report, fmt.Errorf("list activated credentials: %w", err)
	}

	referenced, err := s.widgetCollectionIDs(ctx)
	if err != nil {
		slog.Warn("widget configurations unavailable", "error", err)
	}

	for _, cred := range creds {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		report.Credentials++
		n, errs := s.syncCredential(ctx, cred, referenced)
		report.Collections += n.Collections
		report.Items += n.Items
		report.Errors += errs
	}

	slog.Info("sync pass complete",
		"credentials", report.Credentials,
		"collections", report.Collections,
		"items", report.Items,
		"errors", report.Errors,
	)

	return report, nil
}

func (s *SyncService) syncCredential(ctx context.Context, cred model.Credential, referenced map[string]bool) (SyncReport, int) {
	var report SyncReport

	colls, err := s.SyncCollections(ctx, cred.ID)
	if err != nil {
		slog.Error("collection sync failed", "credential", cred.ID, "error", err)
		return report, 1
	}
	report.Collections = len(colls)

	secret, err := s.secrets.Get(ctx, cred.SecretRef)
	if err != nil || secret == "" {
		slog.Error("secret unavailable for item sync", "credential", cred.ID, "error", err)
		return report, 1
	}

	var wanted []string
	for _, coll := range colls {
		if coll.WidgetEnabled || referenced[coll.ID] {
			wanted = append(wanted, coll.ID)
		}
	}

	fetched := make([][]model.RemoteItem, len(wanted))
	failed := make([]bool, len(wanted))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, collectionID := range wanted {
		g.Go(func() error {
			items, err := s.fetchItems(gctx, cred.ID, secret, collectionID, 0)
			if err != nil {
				logFetchFailure("items", collectionID, cred.ID, err)
				failed[i] = true
				return nil
			}
			fetched[i] = items
			return nil
		})
	}
	_ = g.Wait()

	errCount := 0
	for i, collectionID := range wanted {
		if failed[i] {
			errCount++
			continue
		}
		if err := s.storeItems(ctx, cred.ID, collectionID, fetched[i]); err != nil {
			slog.Error("item upsert failed", "collection", collectionID, "credential", cred.ID, "error", err)
			errCount++
			continue
		}
		report.Items += len(fetched[i])
	}

	return report, errCount
}

// RefreshItem re-fetches a single item. If the remote no longer has it the
// local record is left untouched and the not-found error is returned.
func (s *SyncService) RefreshItem(ctx context.Context, credentialID, itemID string) (*model.RemoteItem, error) {
	cred, secret, err := s.usableCredential(ctx, credentialID)
	if err != nil {
		return nil, err
	}

	payload, err := s.remote.GetItem(ctx, secret, itemID)
	if err != nil {
		logFetchFailure("item", itemID, cred.ID, err)
		return nil, fmt.Errorf("refresh item %q: %w", itemID, err)
	}

	coll, err := s.collections.Get(ctx, payload.ParentID)
	if err != nil {
		return nil, err
	}
	if coll == nil {
		return nil, fmt.Errorf("refresh item %q: parent %q: %w", itemID, payload.ParentID, driven.ErrCollectionNotFound)
	}

	item := itemFromPayload(payload, cred.ID, coll.ID, s.now())
	if err := s.items.UpsertBatch(ctx, []model.RemoteItem{item}); err != nil {
		return nil, fmt.Errorf("upsert item: %w", err)
	}

	s.changes.Publish(ChangeEvent{Kind: ChangeItems, CredentialID: cred.ID, IDs: []string{coll.ID}, At: item.LastSyncedAt})
	return &item, nil
}

// SetCollectionWidget updates the local-only widget fields of a collection.
// It is the only path that writes them.
func (s *SyncService) SetCollectionWidget(ctx context.Context, collectionID string, enabled bool, kind string) (*model.RemoteCollection, error) {
	if kind != "" && !model.WidgetKind(kind).Valid() {
		return nil, fmt.Errorf("widget kind %q: %w", kind, ErrInvalidInput)
	}
	if enabled && kind == "" {
		kind = string(model.WidgetKindTaskList)
	}

	if err := s.collections.SetWidget(ctx, collectionID, enabled, kind); err != nil {
		return nil, err
	}

	coll, err := s.collections.Get(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	if coll == nil {
		return nil, fmt.Errorf("get collection %q: %w", collectionID, driven.ErrCollectionNotFound)
	}

	slog.Info("collection widget updated", "collection", collectionID, "enabled", enabled, "kind", kind)
	s.changes.Publish(ChangeEvent{Kind: ChangeCollections, CredentialID: coll.CredentialID, IDs: []string{collectionID}, At: s.now()})

	return coll, nil
}

// ListCollections returns the stored collections of a credential.
func (s *SyncService) ListCollections(ctx context.Context, credentialID string) ([]model.RemoteCollection, error) {
	return s.collections.ListByCredential(ctx, credentialID)
}

// fetchItems reads up to MaxPages query pages. A failure on the first page
// fails the call; a later failure keeps what was already fetched.
func (s *SyncService) fetchItems(ctx context.Context, credentialID, secret, collectionID string, pageSize int) ([]model.RemoteItem, error) {
	if pageSize <= 0 || pageSize > 100 {
		pageSize = s.cfg.PageSize
	}

	syncedAt := s.now()
	items := []model.RemoteItem{}
	cursor := ""
	for page := 0; page < s.cfg.MaxPages; page++ {
		result, err := s.remote.ListItems(ctx, secret, collectionID, pageSize, cursor)
		if err != nil {
			if page == 0 {
				return nil, fmt.Errorf("list items of %q: %w", collectionID, err)
			}
			slog.Warn("item listing truncated", "collection", collectionID, "pages", page, "error", err)
			return items, nil
		}

		for _, payload := range result.Items {
			if payload.Archived {
				continue
			}
			items = append(items, itemFromPayload(payload, credentialID, collectionID, syncedAt))
		}

		if !result.HasMore || result.NextCursor == "" {
			return items, nil
		}
		cursor = result.NextCursor
	}

	slog.Warn("item listing reached page limit", "collection", collectionID, "max_pages", s.cfg.MaxPages)
	return items, nil
}

func (s *SyncService) storeItems(ctx context.Context, credentialID, collectionID string, items []model.RemoteItem) error {
	if err := s.items.UpsertBatch(ctx, items); err != nil {
		return fmt.Errorf("upsert items of %q: %w", collectionID, err)
	}

	slog.Info("items synced", "collection", collectionID, "credential", credentialID, "items", len(items))
	s.changes.Publish(ChangeEvent{Kind: ChangeItems, CredentialID: credentialID, IDs: []string{collectionID}, At: s.now()})
	return nil
}

// usableCredential loads a credential that is connected and activated along
// with its secret.
func (s *SyncService) usableCredential(ctx context.Context, id string) (*model.Credential, string, error) {
	cred, err := s.creds.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if cred == nil {
		return nil, "", fmt.Errorf("credential %q: %w", id, driven.ErrCredentialNotFound)
	}
	if !cred.Usable() {
		return nil, "", fmt.Errorf("credential %q: %w", id, ErrCredentialInactive)
	}

	secret, err := s.secrets.Get(ctx, cred.SecretRef)
	if err != nil {
		return nil, "", secretStoreError("read secret", id, err)
	}
	if secret == "" {
		return nil, "", fmt.Errorf("credential %q: %w", id, driven.ErrSecretMissing)
	}

	return cred, secret, nil
}

func (s *SyncService) widgetCollectionIDs(ctx context.Context) (map[string]bool, error) {
	ids := map[string]bool{}
	if s.widgets == nil {
		return ids, nil
	}

	configs, err := s.widgets.ListAll(ctx)
	if err != nil {
		return ids, err
	}
	for _, w := range configs {
		if w.CollectionID != "" {
			ids[w.CollectionID] = true
		}
	}
	return ids, nil
}

// logFetchFailure logs a skipped remote fetch at a level matching its class.
// Not-found objects are expected after remote deletes and stay in the local
// store until removed explicitly.
func logFetchFailure(kind, id, credentialID string, err error) {
	switch {
	case errors.Is(err, driven.ErrNotFound):
		slog.Info("remote "+kind+" not found, keeping local copy", "id", id, "credential", credentialID)
	case errors.Is(err, driven.ErrUnauthorized):
		slog.Warn("remote "+kind+" fetch unauthorized", "id", id, "credential", credentialID, "error", err)
	default:
		slog.Warn("remote "+kind+" fetch failed", "id", id, "credential", credentialID, "error", err)
	}
}
