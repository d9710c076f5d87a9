package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/viper"

	"github.com/ericfisherdev/notionwidgets/internal/adapter/driven/notion"
	"github.com/ericfisherdev/notionwidgets/internal/adapter/driven/sharedfs"
	sqliteadapter "github.com/ericfisherdev/notionwidgets/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/notionwidgets/internal/application"
	"github.com/ericfisherdev/notionwidgets/internal/config"
	"github.com/ericfisherdev/notionwidgets/internal/logging"
)

// app is the composition root shared by every command. Services are built
// once and passed explicitly; nothing here is global.
type app struct {
	cfg       *config.Config
	db        *sqliteadapter.DB
	credStore *sqliteadapter.CredentialRepo

	shared   *sharedfs.Store
	notifier *sharedfs.Notifier
	changes  *application.ChangeFeed

	credentials *application.CredentialService
	sync        *application.SyncService
	publisher   *application.Publisher
	widgets     *application.WidgetService

	logCloser io.Closer
}

func newApp(ctx context.Context) (*app, error) {
	// 1. Load configuration and install the logger.
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, logCloser, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logCloser: logCloser}

	// 2. Open database (dual reader/writer with WAL mode) and migrate.
	a.db, err = sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		a.close()
		return nil, err
	}
	if err := sqliteadapter.RunMigrations(a.db.Writer); err != nil {
		a.close()
		return nil, err
	}

	key, err := sqliteadapter.DeriveKey(cfg.SecretKey)
	if err != nil {
		a.close()
		return nil, err
	}
	if key == nil {
		slog.Warn("no secret key configured, credential secrets cannot be read or written")
	}

	// 3. Wire adapters.
	a.credStore = sqliteadapter.NewCredentialRepo(a.db)
	secretStore := sqliteadapter.NewSecretRepo(a.db, key)
	collectionStore := sqliteadapter.NewCollectionRepo(a.db)
	itemStore := sqliteadapter.NewItemRepo(a.db)
	widgetStore := sqliteadapter.NewWidgetConfigRepo(a.db)

	a.shared, err = sharedfs.NewStore(cfg.SharedDir)
	if err != nil {
		a.close()
		return nil, err
	}
	a.notifier = sharedfs.NewNotifier(cfg.SharedDir)

	remote := notion.NewClient(notion.Options{
		BaseURL:    cfg.NotionBaseURL,
		Version:    cfg.NotionVersion,
		Timeout:    cfg.NotionTimeout,
		MaxRetries: cfg.NotionMaxRetries,
	})

	// 4. Wire services.
	a.changes = application.NewChangeFeed()
	a.credentials = application.NewCredentialService(secretStore, a.credStore, remote, a.changes)
	a.sync = application.NewSyncService(a.credStore, secretStore, collectionStore, itemStore, widgetStore, remote, a.changes,
		application.SyncConfig{
			PageSize:    cfg.SyncPageSize,
			MaxPages:    cfg.SyncMaxPages,
			Concurrency: cfg.SyncConcurrency,
		})
	a.publisher = application.NewPublisher(a.shared, a.notifier, a.credStore, collectionStore, itemStore, widgetStore,
		application.PublisherConfig{
			Namespace: cfg.SharedNamespace,
			TTL:       cfg.SnapshotTTL,
			MaxAge:    cfg.SnapshotMaxAge,
		})
	a.widgets = application.NewWidgetService(widgetStore, a.credStore, collectionStore, a.changes)

	slog.Debug("application wired",
		"db_path", cfg.DBPath,
		"shared_dir", cfg.SharedDir,
		"namespace", cfg.SharedNamespace,
		"notion_base_url", cfg.NotionBaseURL,
	)

	return a, nil
}

func (a *app) newScheduler() *application.Scheduler {
	return application.NewScheduler(a.credentials, a.sync, a.publisher, application.SchedulerConfig{
		Interval:     a.cfg.SyncInterval,
		RetryBackoff: a.cfg.SyncRetryBackoff,
		Budget:       a.cfg.SyncBudget,
		SweepMaxAge:  a.cfg.SnapshotMaxAge,
	})
}

func (a *app) close() {
	var errs []error
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}

// withApp builds the application for the duration of fn.
func withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}
