package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store on a PostgreSQL table. It exists for
// deployments that already run Postgres and want the broker state alongside;
// the bbolt backend is the default.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects with the given DSN, applies pool limits and
// creates the kv table if it is missing.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS broker_kv (
		k TEXT PRIMARY KEY,
		v BYTEA NOT NULL
	);`
	_, err := s.db.Exec(schema)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, `SELECT v FROM broker_kv WHERE k = $1`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return v, err
}

func (s *PostgresStore) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT k, v FROM broker_kv WHERE k = ANY($1)`, pq.Array(keys))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]byte, len(keys))
	for rows.Next() {
		var k string
		var v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *PostgresStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO broker_kv (k, v) VALUES ($1, $2) ON CONFLICT (k) DO UPDATE SET v = EXCLUDED.v`,
		key, value)
	return err
}

func (s *PostgresStore) PutMulti(ctx context.Context, entries map[string][]byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for k, v := range entries {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO broker_kv (k, v) VALUES ($1, $2) ON CONFLICT (k) DO UPDATE SET v = EXCLUDED.v`,
			k, v)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) Delete(ctx context.Context, keys ...string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM broker_kv WHERE k = ANY($1)`, pq.Array(keys))
	return err
}

func (s *PostgresStore) List(ctx context.Context, opts ListOptions) ([]Entry, error) {
	query := `SELECT k, v FROM broker_kv WHERE k >= $1`
	args := []interface{}{opts.Prefix}

	if bound := prefixEnd([]byte(opts.Prefix)); bound != nil {
		args = append(args, string(bound))
		query += fmt.Sprintf(` AND k < $%d`, len(args))
	}
	if opts.End != "" {
		args = append(args, opts.End)
		query += fmt.Sprintf(` AND k < $%d`, len(args))
	}
	if opts.Reverse {
		query += ` ORDER BY k DESC`
	} else {
		query += ` ORDER BY k ASC`
	}
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error { return s.db.Close() }
