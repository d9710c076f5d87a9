package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/ericfisherdev/notionwidgets/internal/domain/model"
	"github.com/ericfisherdev/notionwidgets/internal/domain/port/driven"
)

// PublisherConfig configures snapshot keys and lifetimes.
type PublisherConfig struct {
	Namespace string        // Key prefix, e.g. "widget".
	TTL       time.Duration // Age after which item and progress entries read as absent.
	MaxAge    time.Duration // Age after which the sweep deletes them.
}

// Publisher projects the persistent store into the shared cross-process
// store read by rendering surfaces, and signals the host to reload after
// every successful publish. The shared store is a derived cache: every
// entry can be rebuilt from the persistent store with PublishAll.
type Publisher struct {
	shared      driven.SharedStore
	notifier    driven.ReloadNotifier
	creds       driven.CredentialStore
	collections driven.CollectionStore
	items       driven.ItemStore
	widgets     driven.WidgetConfigStore
	cfg         PublisherConfig
	now         func() time.Time
	policy      *bluemonday.Policy
}

// NewPublisher creates a new Publisher with all required dependencies.
func NewPublisher(
	shared driven.SharedStore,
	notifier driven.ReloadNotifier,
	creds driven.CredentialStore,
	collections driven.CollectionStore,
	items driven.ItemStore,
	widgets driven.WidgetConfigStore,
	cfg PublisherConfig,
	opts ...Option,
) *Publisher {
	if cfg.Namespace == "" {
		cfg.Namespace = "widget"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 7 * 24 * time.Hour
	}

	o := buildOptions(opts)
	return &Publisher{
		shared:      shared,
		notifier:    notifier,
		creds:       creds,
		collections: collections,
		items:       items,
		widgets:     widgets,
		cfg:         cfg,
		now:         o.now,
		policy:      bluemonday.StrictPolicy(),
	}
}

// Key builders for the shared store layout.

func (p *Publisher) tokensKey() string {
	return p.cfg.Namespace + "_tokens"
}

func (p *Publisher) collectionsKey(credentialID string) string {
	return p.cfg.Namespace + "_collections_" + credentialID
}

func (p *Publisher) itemsPrefix() string {
	return p.cfg.Namespace + "_items_"
}

func (p *Publisher) itemsKey(credentialID, collectionID string) string {
	return p.itemsPrefix() + credentialID + "_" + collectionID
}

func (p *Publisher) progressPrefix() string {
	return p.cfg.Namespace + "_progress_"
}

func (p *Publisher) progressKey(credentialID, collectionID string) string {
	return p.progressPrefix() + credentialID + "_" + collectionID
}

func (p *Publisher) widgetsKey() string {
	return p.cfg.Namespace + "_widgets"
}

// PublishCredential upserts one credential into the token list.
func (p *Publisher) PublishCredential(ctx context.Context, cred model.Credential) error {
	var tokens []model.TokenSnapshot
	if _, err := p.readJSON(ctx, p.tokensKey(), &tokens); err != nil {
		slog.Warn("token snapshot unreadable, rebuilding", "error", err)
		tokens = nil
	}

	snap := tokenSnapshot(cred)
	replaced := false
	for i := range tokens {
		if tokens[i].ID == snap.ID {
			tokens[i] = snap
			replaced = true
			break
		}
	}
	if !replaced {
		tokens = append(tokens, snap)
	}

	if err := p.writeJSON(ctx, p.tokensKey(), tokens); err != nil {
		return err
	}
	p.notify(ctx, "tokens")
	return nil
}

// PublishCredentials rewrites the token list from the persistent store.
func (p *Publisher) PublishCredentials(ctx context.Context) error {
	if err := p.writeCredentials(ctx); err != nil {
		return err
	}
	p.notify(ctx, "tokens")
	return nil
}

// RemoveCredential drops a deleted credential and every entry scoped to it.
func (p *Publisher) RemoveCredential(ctx context.Context, credentialID string) error {
	var errs []error

	if err := p.writeCredentials(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := p.shared.Delete(ctx, p.collectionsKey(credentialID)); err != nil {
		errs = append(errs, err)
	}
	for _, prefix := range []string{p.itemsPrefix(), p.progressPrefix()} {
		keys, err := p.shared.Keys(ctx, prefix+credentialID+"_")
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, key := range keys {
			if err := p.shared.Delete(ctx, key); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	p.notify(ctx, "tokens")
	return nil
}

// PublishCollection upserts one collection into its credential's ordered
// list. Existing entries keep their position; new ones are appended.
func (p *Publisher) PublishCollection(ctx context.Context, coll model.RemoteCollection, cred model.Credential) error {
	key := p.collectionsKey(cred.ID)

	var list []model.CollectionSnapshot
	if _, err := p.readJSON(ctx, key, &list); err != nil {
		slog.Warn("collection snapshot unreadable, rebuilding", "credential", cred.ID, "error", err)
		list = nil
	}

	snap := p.collectionSnapshot(coll)
	replaced := false
	for i := range list {
		if list[i].ID == snap.ID {
			list[i] = snap
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, snap)
	}

	if err := p.writeJSON(ctx, key, list); err != nil {
		return err
	}
	p.notify(ctx, "collections")
	return nil
}

// PublishCollections rewrites a credential's collection list from the
// persistent store.
func (p *Publisher) PublishCollections(ctx context.Context, credentialID string) error {
	if _, err := p.writeCollections(ctx, credentialID); err != nil {
		return err
	}
	p.notify(ctx, "collections")
	return nil
}

// PublishItems writes the timestamped item list of one collection.
func (p *Publisher) PublishItems(ctx context.Context, credentialID, collectionID string, items []model.RemoteItem) error {
	if err := p.writeItems(ctx, credentialID, collectionID, items); err != nil {
		return err
	}
	p.notify(ctx, "items")
	return nil
}

// ReadItems returns the published items of a collection. Entries older than
// the TTL are reported as absent.
func (p *Publisher) ReadItems(ctx context.Context, credentialID, collectionID string) ([]model.ItemSnapshot, bool, error) {
	var snap model.ItemsSnapshot
	found, err := p.readJSON(ctx, p.itemsKey(credentialID, collectionID), &snap)
	if err != nil || !found {
		return nil, false, err
	}
	if p.freshness(snap.Timestamp) != FreshnessFresh {
		return nil, false, nil
	}
	return snap.Items, true, nil
}

// PublishProgress writes the completion summary of one collection.
func (p *Publisher) PublishProgress(ctx context.Context, credentialID, collectionID string, items []model.RemoteItem) error {
	if err := p.writeProgress(ctx, credentialID, collectionID, items); err != nil {
		return err
	}
	p.notify(ctx, "progress")
	return nil
}

// ReadProgress returns the published progress of a collection, or false if
// it is absent or older than the TTL.
func (p *Publisher) ReadProgress(ctx context.Context, credentialID, collectionID string) (model.ProgressSnapshot, bool, error) {
	var snap model.ProgressSnapshot
	found, err := p.readJSON(ctx, p.progressKey(credentialID, collectionID), &snap)
	if err != nil || !found {
		return model.ProgressSnapshot{}, false, err
	}
	if p.freshness(snap.Timestamp) != FreshnessFresh {
		return model.ProgressSnapshot{}, false, nil
	}
	return snap, true, nil
}

// PublishWidgets rewrites the widget configuration list, skipping
// configurations whose credential or collection no longer exists.
func (p *Publisher) PublishWidgets(ctx context.Context) error {
	if _, err := p.writeWidgets(ctx); err != nil {
		return err
	}
	p.notify(ctx, "widgets")
	return nil
}

// PublishAll rebuilds every snapshot from the persistent store and signals
// a single reload at the end, provided at least one entry was written.
// Failures for individual entries are logged and joined into the returned
// error; the remaining entries are still written.
func (p *Publisher) PublishAll(ctx context.Context) error {
	start := p.now()
	var errs []error
	written := 0

	if err := p.writeCredentials(ctx); err != nil {
		errs = append(errs, err)
	} else {
		written++
	}

	creds, err := p.creds.ListAll(ctx)
	if err != nil {
		if written > 0 {
			p.notify(ctx, "all")
		}
		return errors.Join(append(errs, fmt.Errorf("list credentials: %w", err))...)
	}

	widgets, err := p.writeWidgets(ctx)
	if err != nil {
		errs = append(errs, err)
	} else {
		written++
	}
	referenced := make(map[string]bool, len(widgets))
	for _, w := range widgets {
		if w.CollectionID != "" {
			referenced[w.CollectionID] = true
		}
	}

	var collections, itemLists int
	for _, cred := range creds {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		colls, err := p.writeCollections(ctx, cred.ID)
		if err != nil {
			slog.Error("publish collections failed", "credential", cred.ID, "error", err)
			errs = append(errs, err)
			continue
		}
		written++
		collections += len(colls)

		for _, coll := range colls {
			if !coll.WidgetEnabled && !referenced[coll.ID] {
				continue
			}

			items, err := p.items.ListByCollection(ctx, coll.ID)
			if err != nil {
				errs = append(errs, fmt.Errorf("list items of %q: %w", coll.ID, err))
				continue
			}
			if err := p.writeItems(ctx, cred.ID, coll.ID, items); err != nil {
				errs = append(errs, err)
				continue
			}
			written++
			if err := p.writeProgress(ctx, cred.ID, coll.ID, items); err != nil {
				errs = append(errs, err)
				continue
			}
			itemLists++
		}
	}

	if written > 0 {
		p.notify(ctx, "all")
	}

	slog.Info("snapshots published",
		"credentials", len(creds),
		"collections", collections,
		"item_lists", itemLists,
		"widgets", len(widgets),
		"written", written,
		"errors", len(errs),
		"duration", p.now().Sub(start).Round(time.Millisecond),
	)

	return errors.Join(errs...)
}

// SweepExpired deletes item and progress entries older than maxAge, and any
// such entry that can no longer be decoded. It returns the number of
// entries removed. maxAge <= 0 selects the configured maximum age.
func (p *Publisher) SweepExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = p.cfg.MaxAge
	}

	var errs []error
	removed := 0
	for _, prefix := range []string{p.itemsPrefix(), p.progressPrefix()} {
		keys, err := p.shared.Keys(ctx, prefix)
		if err != nil {
			errs = append(errs, fmt.Errorf("list %s entries: %w", prefix, err))
			continue
		}

		for _, key := range keys {
			var stamp struct {
				Timestamp time.Time `json:"timestamp"`
			}
			found, err := p.readJSON(ctx, key, &stamp)
			if !found {
				if err != nil {
					errs = append(errs, err)
				}
				continue
			}
			if err == nil && classifyFreshness(stamp.Timestamp, p.now(), p.cfg.TTL, maxAge) != FreshnessExpired {
				continue
			}
			if err != nil {
				slog.Warn("removing unreadable snapshot entry", "key", key, "error", err)
			}

			if err := p.shared.Delete(ctx, key); err != nil {
				errs = append(errs, err)
				continue
			}
			removed++
		}
	}

	if removed > 0 {
		slog.Info("expired snapshots swept", "removed", removed, "max_age", maxAge)
	}
	return removed, errors.Join(errs...)
}

// Follow republishes the affected snapshots for every event on feed until
// ctx is done, so interactive edits reach rendering surfaces without
// waiting for the next scheduled run.
func (p *Publisher) Follow(ctx context.Context, feed *ChangeFeed) {
	events, cancel := feed.Subscribe(ctx)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := p.apply(ctx, ev); err != nil {
				slog.Warn("republish after change failed", "kind", ev.Kind, "credential", ev.CredentialID, "error", err)
			}
		}
	}
}

func (p *Publisher) apply(ctx context.Context, ev ChangeEvent) error {
	switch ev.Kind {
	case ChangeCredential:
		cred, err := p.creds.Get(ctx, ev.CredentialID)
		if err != nil {
			return err
		}
		if cred == nil {
			return p.RemoveCredential(ctx, ev.CredentialID)
		}
		return p.PublishCredential(ctx, *cred)

	case ChangeCredentialDeleted:
		return p.RemoveCredential(ctx, ev.CredentialID)

	case ChangeCollections:
		return p.PublishCollections(ctx, ev.CredentialID)

	case ChangeItems:
		var errs []error
		for _, collectionID := range ev.IDs {
			items, err := p.items.ListByCollection(ctx, collectionID)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if err := p.writeItems(ctx, ev.CredentialID, collectionID, items); err != nil {
				errs = append(errs, err)
				continue
			}
			if err := p.writeProgress(ctx, ev.CredentialID, collectionID, items); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			return errors.Join(errs...)
		}
		p.notify(ctx, "items")
		return nil

	case ChangeWidgets:
		return p.PublishWidgets(ctx)
	}
	return nil
}

func (p *Publisher) writeCredentials(ctx context.Context) error {
	creds, err := p.creds.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list credentials: %w", err)
	}

	tokens := make([]model.TokenSnapshot, 0, len(creds))
	for _, cred := range creds {
		tokens = append(tokens, tokenSnapshot(cred))
	}
	return p.writeJSON(ctx, p.tokensKey(), tokens)
}

func (p *Publisher) writeCollections(ctx context.Context, credentialID string) ([]model.RemoteCollection, error) {
	colls, err := p.collections.ListByCredential(ctx, credentialID)
	if err != nil {
		return nil, fmt.Errorf("list collections of %q: %w", credentialID, err)
	}

	list := make([]model.CollectionSnapshot, 0, len(colls))
	for _, coll := range colls {
		list = append(list, p.collectionSnapshot(coll))
	}
	if err := p.writeJSON(ctx, p.collectionsKey(credentialID), list); err != nil {
		return nil, err
	}
	return colls, nil
}

func (p *Publisher) writeItems(ctx context.Context, credentialID, collectionID string, items []model.RemoteItem) error {
	snap := model.ItemsSnapshot{
		Timestamp: p.now().UTC(),
		Items:     make([]model.ItemSnapshot, 0, len(items)),
	}
	for _, item := range items {
		title := p.sanitize(item.Title)
		if title == "" {
			title = model.DefaultItemTitle
		}
		snap.Items = append(snap.Items, model.ItemSnapshot{
			ID:          item.ID,
			Title:       title,
			IsCompleted: item.IsCompleted,
			DueDate:     item.DueDate,
		})
	}
	return p.writeJSON(ctx, p.itemsKey(credentialID, collectionID), snap)
}

func (p *Publisher) writeProgress(ctx context.Context, credentialID, collectionID string, items []model.RemoteItem) error {
	snap := model.ProgressSnapshot{
		Timestamp: p.now().UTC(),
		Total:     len(items),
	}
	for _, item := range items {
		if item.IsCompleted {
			snap.Completed++
		}
	}
	if snap.Total > 0 {
		snap.Percent = math.Round(float64(snap.Completed)/float64(snap.Total)*1000) / 10
	}
	return p.writeJSON(ctx, p.progressKey(credentialID, collectionID), snap)
}

func (p *Publisher) writeWidgets(ctx context.Context) ([]model.WidgetSnapshot, error) {
	configs, err := p.widgets.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list widget configurations: %w", err)
	}

	list := make([]model.WidgetSnapshot, 0, len(configs))
	for _, w := range configs {
		orphaned, err := p.orphaned(ctx, w)
		if err != nil {
			return nil, err
		}
		if orphaned {
			slog.Debug("skipping orphaned widget configuration", "widget", w.ID, "credential", w.CredentialID, "collection", w.CollectionID)
			continue
		}
		list = append(list, model.WidgetSnapshot{
			ID:           w.ID,
			Name:         p.sanitize(w.Name),
			CredentialID: w.CredentialID,
			CollectionID: w.CollectionID,
			Kind:         string(w.Kind),
			Settings:     string(w.Settings),
		})
	}

	if err := p.writeJSON(ctx, p.widgetsKey(), list); err != nil {
		return nil, err
	}
	return list, nil
}

// orphaned reports whether a widget configuration references a credential
// or collection that no longer exists.
func (p *Publisher) orphaned(ctx context.Context, w model.WidgetConfiguration) (bool, error) {
	cred, err := p.creds.Get(ctx, w.CredentialID)
	if err != nil {
		return false, err
	}
	if cred == nil {
		return true, nil
	}
	if w.CollectionID == "" {
		return false, nil
	}

	coll, err := p.collections.Get(ctx, w.CollectionID)
	if err != nil {
		return false, err
	}
	return coll == nil, nil
}

func (p *Publisher) collectionSnapshot(coll model.RemoteCollection) model.CollectionSnapshot {
	return model.CollectionSnapshot{
		ID:            coll.ID,
		Title:         p.sanitize(coll.Title),
		URL:           coll.URL,
		WidgetEnabled: coll.WidgetEnabled,
		WidgetKind:    coll.WidgetKind,
	}
}

func tokenSnapshot(cred model.Credential) model.TokenSnapshot {
	return model.TokenSnapshot{
		ID:        cred.ID,
		Name:      cred.Name,
		Connected: cred.Connected,
		Activated: cred.Activated,
	}
}

// sanitize strips markup from text bound for rendering surfaces, which
// display it verbatim.
func (p *Publisher) sanitize(s string) string {
	return strings.TrimSpace(html.UnescapeString(p.policy.Sanitize(s)))
}

func (p *Publisher) freshness(ts time.Time) Freshness {
	return classifyFreshness(ts, p.now(), p.cfg.TTL, p.cfg.MaxAge)
}

func (p *Publisher) readJSON(ctx context.Context, key string, v any) (bool, error) {
	data, found, err := p.shared.Get(ctx, key)
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (p *Publisher) writeJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := p.shared.Put(ctx, key, data); err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

// notify signals the rendering host. A failed signal does not undo the
// publish; the next one carries the change.
func (p *Publisher) notify(ctx context.Context, reason string) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.NotifyReload(ctx, reason); err != nil {
		slog.Warn("reload signal failed", "reason", reason, "error", err)
	}
}
