package provenance

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

type SQLStore struct {
	db      *sql.DB
	dialect string
}

// OpenSQL opens a postgres (pgx) or sqlite database.
func OpenSQL(driver string, dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, errors.New("missing database dsn")
	}
	var sqlDriver, dialect string
	switch driver {
	case "postgres":
		sqlDriver, dialect = "pgx", "postgres"
	case "sqlite":
		sqlDriver, dialect = "sqlite", "sqlite3"
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &SQLStore{db: db, dialect: dialect}, nil
}

func (s *SQLStore) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect(s.dialect); err != nil {
		return err
	}
	goose.SetTableName("schema_migrations")
	return goose.UpContext(ctx, s.db, "migrations")
}

func (s *SQLStore) Put(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO provenance (message_id, message_url, posted_post_id)
		VALUES ($1,$2,$3)
		ON CONFLICT (message_id) DO UPDATE SET message_url = EXCLUDED.message_url, posted_post_id = EXCLUDED.posted_post_id`,
		rec.MessageID, rec.MessageURL, rec.PostedPostID)
	return err
}

func (s *SQLStore) Get(ctx context.Context, messageID string) (Record, bool, error) {
	rec := Record{MessageID: messageID}
	row := s.db.QueryRowContext(ctx, `SELECT message_url, posted_post_id FROM provenance WHERE message_id = $1`, messageID)
	if err := row.Scan(&rec.MessageURL, &rec.PostedPostID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	return rec, true, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
