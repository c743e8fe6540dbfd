package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/MeKo-Tech/shelfscan/internal/golden"
	"github.com/MeKo-Tech/shelfscan/internal/sequence"
)

const (
	queryBookByISBN = `SELECT id FROM books WHERE isbn = :isbn LIMIT 1`

	queryBookByTitle = `SELECT id FROM books WHERE title = :title AND shelf_id = :shelf_id LIMIT 1`

	queryMoveBook = `UPDATE books
		SET shelf_id = :shelf_id, position_row = :position_row, position_column = :position_column
		WHERE id = :id`

	queryInsertBook = `INSERT INTO books
		(shelf_id, title, author, published_date, position_row, position_column, cover_url, isbn)
		VALUES (:shelf_id, :title, :author, :published_date, :position_row, :position_column, :cover_url, :isbn)`

	schemaBooks = `CREATE TABLE IF NOT EXISTS books (
		id              SERIAL PRIMARY KEY,
		shelf_id        INTEGER NOT NULL,
		title           TEXT NOT NULL,
		author          TEXT NOT NULL,
		published_date  TEXT,
		position_row    INTEGER NOT NULL,
		position_column INTEGER NOT NULL,
		cover_url       TEXT,
		isbn            TEXT
	);
	CREATE INDEX IF NOT EXISTS books_isbn_idx ON books (isbn);
	CREATE INDEX IF NOT EXISTS books_title_shelf_idx ON books (title, shelf_id);`
)

// SQL is a Gateway backed by a relational database through sqlx.
type SQL struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Open connects to a Postgres database.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*SQL, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return NewSQL(db, logger), nil
}

func NewSQL(db *sqlx.DB, logger *slog.Logger) *SQL {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQL{db: db, logger: logger}
}

// Migrate creates the books table if it does not exist.
func (s *SQL) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaBooks); err != nil {
		return fmt.Errorf("migrate books: %w", err)
	}
	return nil
}

func (s *SQL) Close() error { return s.db.Close() }

// Upsert finds an existing row by ISBN, then by (title, shelf_id), and moves
// it to pos. Otherwise it inserts a new row. Everything runs in one
// transaction.
func (s *SQL) Upsert(ctx context.Context, rec golden.Record, pos sequence.Position) (action Action, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Noop, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Error("rollback failed", "error", rbErr)
			}
		}
	}()

	id, found, err := s.findExisting(ctx, tx, rec, pos.ShelfID)
	if err != nil {
		return Noop, err
	}

	if found {
		err = execNamed(ctx, tx, queryMoveBook, map[string]interface{}{
			"id":              id,
			"shelf_id":        pos.ShelfID,
			"position_row":    pos.Row,
			"position_column": pos.Column,
		})
		action = Updated
	} else {
		err = execNamed(ctx, tx, queryInsertBook, map[string]interface{}{
			"shelf_id":        pos.ShelfID,
			"title":           rec.Title,
			"author":          rec.Author,
			"published_date":  nullable(rec.PublishedDate),
			"position_row":    pos.Row,
			"position_column": pos.Column,
			"cover_url":       nullable(rec.CoverURL),
			"isbn":            nullable(rec.ISBN),
		})
		action = Inserted
	}
	if err != nil {
		return Noop, err
	}

	if err = tx.Commit(); err != nil {
		return Noop, fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("book persisted", "action", action, "title", rec.Title,
		"shelf_id", pos.ShelfID, "row", pos.Row, "column", pos.Column)
	return action, nil
}

func (s *SQL) findExisting(ctx context.Context, tx *sqlx.Tx, rec golden.Record, shelfID int) (int64, bool, error) {
	if rec.ISBN != nil && *rec.ISBN != "" {
		id, found, err := selectID(ctx, tx, queryBookByISBN, map[string]interface{}{"isbn": *rec.ISBN})
		if err != nil || found {
			return id, found, err
		}
	}
	return selectID(ctx, tx, queryBookByTitle, map[string]interface{}{
		"title":    rec.Title,
		"shelf_id": shelfID,
	})
}

func selectID(ctx context.Context, tx *sqlx.Tx, named string, argsKV map[string]interface{}) (int64, bool, error) {
	query, args, err := sqlx.Named(named, argsKV)
	if err != nil {
		return 0, false, fmt.Errorf("build query: %w", err)
	}
	query = tx.Rebind(query)

	var id int64
	if err := tx.QueryRowxContext(ctx, query, args...).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("select book: %w", err)
	}
	return id, true, nil
}

func execNamed(ctx context.Context, tx *sqlx.Tx, named string, argsKV map[string]interface{}) error {
	query, args, err := sqlx.Named(named, argsKV)
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return fmt.Errorf("write book: %w", err)
	}
	return nil
}

func nullable(s *string) interface{} {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}
