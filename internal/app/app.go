package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"hrb-go/internal/catalog"
	"hrb-go/internal/config"
	"hrb-go/internal/database"
	"hrb-go/internal/database/migrations"
	"hrb-go/internal/fs"
	"hrb-go/internal/hrb"
	"hrb-go/internal/index"
	"hrb-go/internal/redis"
	"hrb-go/internal/transport"
)

// PasswordFunc supplies the HTTP transport password when the config has none.
type PasswordFunc func() (string, error)

// Options tune how an HRBApp is built.
type Options struct {
	// Verbose also logs debug records.
	Verbose bool

	// Password is asked for the HTTP transport password when the config
	// does not contain one.
	Password PasswordFunc
}

// HRBApp is the application layer between the CLI and SyncService.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw collection names and paths, and releases everything on Close.
type HRBApp struct {
	cfg     *config.Config
	op      *Operation
	logger  hrb.Logger
	logFile *os.File

	db      *database.SQLiteDatabase
	store   transport.Store
	conn    *redis.Conn
	catalog *catalog.Catalog
	index   *index.TimeIndex
	service *hrb.SyncService
}

// NewHRBApp creates a fully wired HRBApp from the given config.
// operation identifies the CLI command being run (e.g. "Sync", "Diff").
// The caller must call Close when done.
func NewHRBApp(ctx context.Context, cfg *config.Config, operation string, opts Options) (*HRBApp, error) {
	if cfg.User == "" {
		return nil, fmt.Errorf("no user configured")
	}

	a := &HRBApp{cfg: cfg, op: NewOperation(operation, time.Now())}

	logger, logFile, err := newLogger(cfg.LogDir, a.op.ID, opts.Verbose)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	a.logger = &slogAdapter{l: logger}
	a.logFile = logFile

	if err := a.wire(ctx, opts); err != nil {
		a.op.Fail()
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *HRBApp) wire(ctx context.Context, opts Options) error {
	db, err := database.NewDatabaseFromConfig(a.cfg.Database)
	if errors.Is(err, migrations.ErrNeedsMigration) {
		return fmt.Errorf("opening sync history: %w (run `hrbsync db migrate`)", err)
	}
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	a.db = db

	store, err := transport.NewTransportFromConfig(ctx, a.cfg.Transport, a.logger)
	if err != nil {
		return fmt.Errorf("creating transport: %w", err)
	}
	a.store = store

	if h, ok := store.(*transport.HTTPTransport); ok {
		if err := a.login(ctx, h, opts.Password); err != nil {
			return err
		}
	}

	var source hrb.CollectionSource = store
	if a.cfg.Backend.Addr != "" {
		conn, err := redis.NewFromConfig(a.cfg.Backend, a.logger)
		if err != nil {
			return fmt.Errorf("creating backend connection: %w", err)
		}
		a.conn = conn
		a.catalog = catalog.New(conn, a.logger)
		a.index = index.NewTimeIndex(conn, a.logger)
		source = a.catalog
	}

	local := fs.NewOSLocalStore(a.cfg.Sync.Ignore, a.logger)
	a.service = hrb.NewSyncService(source, store, local, a.logger, hrb.RealClock{}, hrb.UUIDGenerator{}).
		WithRecorder(a.db).
		WithConcurrency(a.cfg.Sync.Concurrency)
	if a.catalog != nil {
		a.service.WithMetadata(a.catalog, a.index)
	}
	return nil
}

func (a *HRBApp) login(ctx context.Context, h *transport.HTTPTransport, ask PasswordFunc) error {
	password := a.cfg.Transport.HTTPPassword
	if password == "" {
		if ask == nil {
			return fmt.Errorf("http transport needs a password")
		}
		p, err := ask()
		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}
		password = p
	}
	if err := h.Login(ctx, a.cfg.User, password); err != nil {
		return fmt.Errorf("logging in as %s: %w", a.cfg.User, err)
	}
	a.logger.Debug("logged in", "user", a.cfg.User, "url", a.cfg.Transport.HTTPBaseURL)
	return nil
}

// Targets resolves which collection bindings a command acts on:
//   - all: every configured collection
//   - collection and dir: an ad-hoc binding
//   - collection: the configured binding of that name
//   - neither: the only configured binding
func (a *HRBApp) Targets(collection, dir string, all bool) ([]config.CollectionConfig, error) {
	switch {
	case all:
		if collection != "" || dir != "" {
			return nil, fmt.Errorf("--all cannot be combined with a collection or directory")
		}
		if len(a.cfg.Collections) == 0 {
			return nil, fmt.Errorf("no collections configured")
		}
		return a.cfg.Collections, nil
	case collection != "" && dir != "":
		return []config.CollectionConfig{{Name: collection, Dir: dir}}, nil
	case collection != "":
		cc, ok := a.cfg.Collection(collection)
		if !ok {
			return nil, fmt.Errorf("collection %q is not configured; pass --dir to bind it", collection)
		}
		return []config.CollectionConfig{cc}, nil
	case dir != "":
		return nil, fmt.Errorf("--dir requires --collection")
	case len(a.cfg.Collections) == 1:
		return a.cfg.Collections, nil
	default:
		return nil, fmt.Errorf("%d collections configured; pass --collection or --all", len(a.cfg.Collections))
	}
}

func (a *HRBApp) request(target config.CollectionConfig, mode hrb.Mode) (hrb.SyncRequest, error) {
	dir, err := filepath.Abs(target.Dir)
	if err != nil {
		return hrb.SyncRequest{}, fmt.Errorf("resolving path: %w", err)
	}
	return hrb.SyncRequest{
		Owner:      a.cfg.User,
		Collection: target.Name,
		Dir:        dir,
		Rendition:  a.cfg.Sync.Rendition,
		Mode:       mode,
	}, nil
}

// Sync reconciles one binding. onItem, if set, sees every transfer as it
// finishes. A report with failed items marks the operation as failed.
func (a *HRBApp) Sync(ctx context.Context, target config.CollectionConfig, mode hrb.Mode, onItem func(hrb.ItemResult)) (*hrb.Report, error) {
	req, err := a.request(target, mode)
	if err != nil {
		return nil, err
	}
	req.OnItem = onItem

	report, err := a.service.Sync(ctx, req)
	if err != nil {
		a.op.Fail()
		return nil, err
	}
	if report.Failed() > 0 {
		a.op.Fail()
	}
	return report, nil
}

// Diff compares one binding without transferring anything.
func (a *HRBApp) Diff(ctx context.Context, target config.CollectionConfig) (*hrb.Comparison, error) {
	req, err := a.request(target, hrb.ModeBoth)
	if err != nil {
		return nil, err
	}
	return a.service.Diff(ctx, req)
}

// History returns the most recent sync sessions.
func (a *HRBApp) History(limit int) ([]*hrb.SessionSummary, error) {
	return a.service.History(limit)
}

// SessionItems returns the transfers of one recorded session.
func (a *HRBApp) SessionItems(sessionID string) ([]*hrb.ItemRecord, error) {
	return a.service.SessionItems(sessionID)
}

// ErrNoBackend is returned by operations that need the backend when none is
// configured.
var ErrNoBackend = errors.New("no backend configured")

// Recent returns the user's n most recently timestamped blobs from the time
// index.
func (a *HRBApp) Recent(ctx context.Context, n int) ([]index.Entry, error) {
	if a.index == nil {
		return nil, ErrNoBackend
	}
	return a.index.Latest(ctx, a.cfg.User, n)
}

// Collections lists the user's collections known to the backend.
func (a *HRBApp) Collections(ctx context.Context) ([]string, error) {
	if a.catalog == nil {
		return nil, ErrNoBackend
	}
	return a.catalog.Collections(ctx, a.cfg.User)
}

// Close logs the operation outcome and releases every resource. It is safe
// to call on a partially built HRBApp.
func (a *HRBApp) Close() error {
	var firstErr error

	if a.logger != nil {
		a.logger.Info("operation finished", "operation", a.op.Name, "status", a.op.Status)
	}

	if a.conn != nil {
		a.conn.Close()
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			firstErr = fmt.Errorf("closing database: %w", err)
		}
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
