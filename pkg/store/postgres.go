package store

import (
	"context"
	stdsql "database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/parallax-research/parallax/pkg/config"
)

//go:embed migrations
var migrationsFS embed.FS

// metaVectorDimKey records the vector dimension the schema was created with.
const metaVectorDimKey = "vector_dim"

// initState is the store initialization state machine:
// NOT_STARTED → INITIALIZING → (INITIALIZED | FAILED).
type initState int32

const (
	initNotStarted initState = iota
	initInitializing
	initInitialized
	initFailed
)

// PostgresStore is the primary Store implementation: pgx connection pool,
// embedded golang-migrate migrations, pgvector columns for embeddings.
type PostgresStore struct {
	cfg   config.StoreConfig
	retry retryPolicy

	mu       sync.Mutex
	state    initState
	initErr  error
	initDone chan struct{}

	pool *pgxpool.Pool

	// NeedsReindex is set when the schema's vector dimension was changed
	// during init; the owner should run ReindexVectors before serving
	// similarity reads.
	needsReindex bool
}

// NewPostgres creates the store and kicks off asynchronous initialization.
// A single in-flight initialization is shared; all public operations wait
// on it before executing.
func NewPostgres(ctx context.Context, cfg config.StoreConfig) *PostgresStore {
	s := &PostgresStore{
		cfg:      cfg,
		retry:    retryPolicy{maxRetries: cfg.MaxRetries, baseDelay: cfg.BaseDelay},
		state:    initInitializing,
		initDone: make(chan struct{}),
	}
	go s.initialize(ctx)
	return s
}

// Identity implements Store.
func (s *PostgresStore) Identity() string { return "postgres" }

// NeedsReindex reports whether init detected a vector dimension change.
func (s *PostgresStore) NeedsReindex() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.needsReindex
}

// WaitForInit implements Store.
func (s *PostgresStore) WaitForInit(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.InitTimeout)
	defer cancel()
	select {
	case <-s.initDone:
	case <-waitCtx.Done():
		return fmt.Errorf("waiting for store initialization: %w", waitCtx.Err())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == initFailed {
		return &InitializationError{Cause: s.initErr}
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *PostgresStore) initialize(ctx context.Context) {
	err := s.doInit(ctx)

	s.mu.Lock()
	if err != nil {
		s.state = initFailed
		s.initErr = err
	} else {
		s.state = initInitialized
	}
	s.mu.Unlock()
	close(s.initDone)

	if err != nil {
		slog.Error("Store initialization failed", "error", err)
	} else {
		slog.Info("Store initialized", "identity", s.Identity())
	}
}

func (s *PostgresStore) doInit(ctx context.Context) error {
	poolCfg, err := pgxpool.ParseConfig(s.cfg.DSN())
	if err != nil {
		return fmt.Errorf("parsing connection config: %w", err)
	}
	poolCfg.MaxConns = int32(s.cfg.MaxConns)
	poolCfg.MaxConnLifetime = s.cfg.ConnMaxLifetime
	poolCfg.MaxConnIdleTime = s.cfg.ConnMaxIdleTime
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return fmt.Errorf("pinging database: %w", err)
	}

	if err := runMigrations(s.cfg); err != nil {
		pool.Close()
		return fmt.Errorf("running migrations: %w", err)
	}

	s.pool = pool

	if err := s.ensureVectorDim(ctx); err != nil {
		pool.Close()
		s.pool = nil
		return fmt.Errorf("checking vector dimension: %w", err)
	}

	return nil
}

// runMigrations applies embedded SQL migrations via golang-migrate. Files
// are embedded so production deployments carry them inside the binary.
func runMigrations(cfg config.StoreConfig) error {
	db, err := stdsql.Open("pgx", cfg.DSN())
	if err != nil {
		return fmt.Errorf("opening migration connection: %w", err)
	}
	defer func() { _ = db.Close() }()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("creating postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, cfg.Database, driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}

	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("closing migration source: %w", err)
	}
	return nil
}

// ensureVectorDim compares the configured dimension D against the recorded
// schema dimension. On mismatch the vector columns are rebuilt at the new
// dimension (existing embeddings are dropped) and needsReindex is set so
// the owner re-embeds before serving similarity reads.
func (s *PostgresStore) ensureVectorDim(ctx context.Context) error {
	var recorded string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM meta WHERE key = $1`, metaVectorDimKey,
	).Scan(&recorded)
	if errors.Is(err, pgx.ErrNoRows) {
		_, err = s.pool.Exec(ctx,
			`INSERT INTO meta (key, value) VALUES ($1, $2)
			 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
			metaVectorDimKey, strconv.Itoa(s.cfg.VectorDim))
		return err
	}
	if err != nil {
		return err
	}

	dim, err := strconv.Atoi(recorded)
	if err != nil || dim == s.cfg.VectorDim {
		return err
	}

	slog.Warn("Vector dimension changed, rebuilding embedding columns",
		"recorded", dim, "configured", s.cfg.VectorDim)

	alter := fmt.Sprintf(
		`ALTER TABLE reports ALTER COLUMN query_embedding TYPE vector(%d) USING NULL;
		 ALTER TABLE index_documents ALTER COLUMN doc_embedding TYPE vector(%d) USING NULL;`,
		s.cfg.VectorDim, s.cfg.VectorDim)
	if _, err := s.pool.Exec(ctx, alter); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx,
		`UPDATE meta SET value = $2 WHERE key = $1`,
		metaVectorDimKey, strconv.Itoa(s.cfg.VectorDim)); err != nil {
		return err
	}

	s.mu.Lock()
	s.needsReindex = true
	s.mu.Unlock()
	return nil
}

// run wraps an operation with init waiting and the retry policy.
func (s *PostgresStore) run(ctx context.Context, name string, op func() error) error {
	if err := s.WaitForInit(ctx); err != nil {
		return err
	}
	return s.retry.executeWithRetry(ctx, name, op)
}
