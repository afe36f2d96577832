package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/clause"

	"statusflow/internal/config"
	"statusflow/internal/constants"
	"statusflow/internal/logger"
	"statusflow/pkg/models"
)

// moduleRow maps the Modules table. Column names keep the layout of existing
// instrument.db files.
type moduleRow struct {
	ModuleCategoryID string `gorm:"column:ModuleCategoryID;primaryKey"`
	ModuleState      string `gorm:"column:ModuleState;not null"`
	LastUpdatedUtc   string `gorm:"column:LastUpdatedUtc;not null"`
}

func (moduleRow) TableName() string {
	return "Modules"
}

func (r moduleRow) record() models.ModuleRecord {
	return models.ModuleRecord{
		ModuleCategoryID: r.ModuleCategoryID,
		ModuleState:      r.ModuleState,
		LastUpdatedUtc:   r.LastUpdatedUtc,
	}
}

var upsertModuleClause = clause.OnConflict{
	Columns:   []clause.Column{{Name: "ModuleCategoryID"}},
	DoUpdates: clause.AssignmentColumns([]string{"ModuleState", "LastUpdatedUtc"}),
}

type SQLiteStore struct {
	db     *gorm.DB
	path   string
	now    func() time.Time
	logger logger.Logger
}

// NewSQLiteStore opens the database file, creating its parent directory when
// needed. The schema is created by Init.
func NewSQLiteStore(cfg config.SQLiteConfig, log logger.Logger, opts ...Option) (*SQLiteStore, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." && cfg.Path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory %s: %w", dir, err)
		}
	}

	db, err := gorm.Open(sqlite.Open(sqliteDSN(cfg)), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", cfg.Path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sqlite handle: %w", err)
	}
	// SQLite allows a single writer.
	sqlDB.SetMaxOpenConns(1)

	o := buildOptions(opts)
	return &SQLiteStore{db: db, path: cfg.Path, now: o.now, logger: log}, nil
}

func sqliteDSN(cfg config.SQLiteConfig) string {
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	params := url.Values{}
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	if cfg.Path != ":memory:" {
		params.Add("_pragma", "journal_mode(WAL)")
	}
	return cfg.Path + "?" + params.Encode()
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&moduleRow{}); err != nil {
		return fmt.Errorf("failed to create Modules table: %w", err)
	}
	s.logger.Infow("SQLite store ready", "path", s.path)
	return nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, moduleID, state string) (err error) {
	start := time.Now()
	defer func() { observe(constants.StoreTypeSQLite, "upsert", start, err) }()

	if moduleID == "" {
		return ErrInvalidID
	}
	return s.upsert(s.db.WithContext(ctx), moduleID, state)
}

func (s *SQLiteStore) UpsertMany(ctx context.Context, updates []models.ModuleUpdate) (err error) {
	start := time.Now()
	defer func() { observe(constants.StoreTypeSQLite, "upsert_many", start, err) }()

	if err := validateUpdates(updates); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, u := range updates {
			if err := s.upsert(tx, u.ModuleCategoryID, u.ModuleState); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) upsert(db *gorm.DB, moduleID, state string) error {
	row := moduleRow{
		ModuleCategoryID: moduleID,
		ModuleState:      state,
		LastUpdatedUtc:   FormatTimestamp(s.now()),
	}
	if err := db.Clauses(upsertModuleClause).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to upsert module %s: %w", moduleID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, moduleID string) (models.ModuleRecord, error) {
	var row moduleRow
	err := s.db.WithContext(ctx).Where("ModuleCategoryID = ?", moduleID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ModuleRecord{}, notFound(moduleID)
	}
	if err != nil {
		return models.ModuleRecord{}, fmt.Errorf("failed to get module %s: %w", moduleID, err)
	}
	return row.record(), nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]models.ModuleRecord, error) {
	var rows []moduleRow
	if err := s.db.WithContext(ctx).Order("ModuleCategoryID").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list modules: %w", err)
	}

	records := make([]models.ModuleRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, r.record())
	}
	return records, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
