package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	_ "github.com/lib/pq"

	"statusflow/internal/config"
	"statusflow/internal/constants"
	"statusflow/internal/logger"
	"statusflow/pkg/migrations"
	"statusflow/pkg/models"
)

const (
	upsertModuleSQL = `
		INSERT INTO modules (module_category_id, module_state, last_updated_utc)
		VALUES ($1, $2, $3)
		ON CONFLICT (module_category_id) DO UPDATE
		SET module_state = EXCLUDED.module_state,
			last_updated_utc = EXCLUDED.last_updated_utc
	`
	getModuleSQL = `
		SELECT module_category_id, module_state, last_updated_utc
		FROM modules
		WHERE module_category_id = $1
	`
	listModulesSQL = `
		SELECT module_category_id, module_state, last_updated_utc
		FROM modules
		ORDER BY module_category_id
	`
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type PostgresStore struct {
	db     *sql.DB
	dsn    string
	now    func() time.Time
	logger logger.Logger
}

func NewPostgresStore(db *sql.DB, dsn string, log logger.Logger, opts ...Option) *PostgresStore {
	o := buildOptions(opts)
	return &PostgresStore{db: db, dsn: dsn, now: o.now, logger: log}
}

// PostgresDSN builds a lib/pq URL from the store.postgres section.
func PostgresDSN(cfg config.PostgresConfig) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Path:     "/" + cfg.DBName,
		RawQuery: url.Values{"sslmode": []string{cfg.SSLMode}}.Encode(),
	}
	return u.String()
}

func openPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func (s *PostgresStore) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := migrations.RunPostgres(s.dsn); err != nil {
		return fmt.Errorf("failed to migrate postgres store: %w", err)
	}
	s.logger.Info("PostgreSQL store ready")
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, moduleID, state string) (err error) {
	start := time.Now()
	defer func() { observe(constants.StoreTypePostgres, "upsert", start, err) }()

	if moduleID == "" {
		return ErrInvalidID
	}
	return s.upsert(ctx, s.db, moduleID, state)
}

func (s *PostgresStore) UpsertMany(ctx context.Context, updates []models.ModuleUpdate) (err error) {
	start := time.Now()
	defer func() { observe(constants.StoreTypePostgres, "upsert_many", start, err) }()

	if err := validateUpdates(updates); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, u := range updates {
		if err := s.upsert(ctx, tx, u.ModuleCategoryID, u.ModuleState); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) upsert(ctx context.Context, db execer, moduleID, state string) error {
	if _, err := db.ExecContext(ctx, upsertModuleSQL, moduleID, state, FormatTimestamp(s.now())); err != nil {
		return fmt.Errorf("failed to upsert module %s: %w", moduleID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, moduleID string) (models.ModuleRecord, error) {
	var r models.ModuleRecord
	err := s.db.QueryRowContext(ctx, getModuleSQL, moduleID).Scan(&r.ModuleCategoryID, &r.ModuleState, &r.LastUpdatedUtc)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ModuleRecord{}, notFound(moduleID)
	}
	if err != nil {
		return models.ModuleRecord{}, fmt.Errorf("failed to get module %s: %w", moduleID, err)
	}
	return r, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]models.ModuleRecord, error) {
	rows, err := s.db.QueryContext(ctx, listModulesSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to query modules: %w", err)
	}
	defer rows.Close()

	records := make([]models.ModuleRecord, 0)
	for rows.Next() {
		var r models.ModuleRecord
		if err := rows.Scan(&r.ModuleCategoryID, &r.ModuleState, &r.LastUpdatedUtc); err != nil {
			return nil, fmt.Errorf("failed to scan module: %w", err)
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
