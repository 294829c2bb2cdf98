// Package storage persists normalized books into the append-only books table.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aluiziolira/books-etl/config"
	"github.com/aluiziolira/books-etl/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// CreateTableSQL creates the history table when it does not exist yet. It
// never alters an existing table.
const CreateTableSQL = `CREATE TABLE IF NOT EXISTS books (
	id SERIAL PRIMARY KEY,
	title TEXT NOT NULL,
	price NUMERIC,
	rating INT,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`

// ErrNoConnection is returned when a Store has no database handle.
var ErrNoConnection = errors.New("storage: no database connection")

// Store appends books to Postgres through gorm.
type Store struct {
	DB               *gorm.DB
	StatementTimeout time.Duration
}

// NewStore wraps an open gorm handle.
func NewStore(db *gorm.DB, statementTimeout time.Duration) *Store {
	return &Store{
		DB:               db,
		StatementTimeout: statementTimeout,
	}
}

// Open prepares a connection pool for the database described by cfg. No
// connection is made until the first statement runs.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	connConfig, err := pgx.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	if cfg.ConnectTimeout > 0 {
		connConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	sqlDB := stdlib.OpenDB(*connConfig)
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetConnMaxIdleTime(time.Minute)

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		DisableAutomaticPing:   true,
		Logger:                 logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("connect to %s@%s/%s: %w", cfg.User, cfg.Host, cfg.Name, err)
	}
	return NewStore(db, cfg.StatementTimeout), nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Persist appends every book as a new row and returns the number written.
// The table is created first if needed. All statements run on one dedicated
// connection inside one transaction; any failure rolls the whole batch back.
func (s *Store) Persist(ctx context.Context, books []models.Book) (int, error) {
	if len(books) == 0 {
		return 0, nil
	}
	if s == nil || s.DB == nil {
		return 0, ErrNoConnection
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	written := 0
	err := s.DB.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		return conn.Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec(CreateTableSQL).Error; err != nil {
				return fmt.Errorf("create table: %w", err)
			}
			for i, book := range books {
				record := models.BookRecord{
					Title:  book.Title,
					Price:  book.Price,
					Rating: book.Rating.Int(),
				}
				if err := tx.Create(&record).Error; err != nil {
					return fmt.Errorf("insert book #%d %q: %w", i, book.Title, err)
				}
				written++
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}

	slog.Info("loaded books", slog.Int("rows", written))
	return written, nil
}

// Since returns rows created at or after t in insertion order. A
// non-positive limit returns every matching row.
func (s *Store) Since(ctx context.Context, t time.Time, limit int) ([]models.BookRecord, error) {
	if s == nil || s.DB == nil {
		return nil, ErrNoConnection
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var records []models.BookRecord
	q := s.DB.WithContext(ctx).Where("created_at >= ?", t).Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("select books since %s: %w", t.Format(time.RFC3339), err)
	}
	return records, nil
}

// Count returns the total number of rows in the history table.
func (s *Store) Count(ctx context.Context) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, ErrNoConnection
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var n int64
	if err := s.DB.WithContext(ctx).Model(&models.BookRecord{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count books: %w", err)
	}
	return n, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.StatementTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.StatementTimeout)
}
