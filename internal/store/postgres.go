package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const storeColumns = `id, name, engine, namespace, release, status, failure_reason, store_url,
	db_root_password, db_name, db_user, db_password,
	admin_username, admin_password, admin_email, created_at, updated_at`

// PostgresRepository is a Repository backed by a pgx connection pool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a Repository backed by the given pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func scanStore(row pgx.Row) (*Store, error) {
	var s Store
	err := row.Scan(
		&s.ID, &s.Name, &s.Engine, &s.Namespace, &s.Release, &s.Status,
		&s.FailureReason, &s.StoreURL,
		&s.DBRootPassword, &s.DBName, &s.DBUser, &s.DBPassword,
		&s.AdminUsername, &s.AdminPassword, &s.AdminEmail,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Insert commits a new store record, failing with ErrDuplicateName on a
// unique-name collision.
func (r *PostgresRepository) Insert(ctx context.Context, s *Store) error {
	query := `INSERT INTO stores (` + storeColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`

	_, err := r.pool.Exec(ctx, query,
		s.ID, s.Name, s.Engine, s.Namespace, s.Release, s.Status,
		s.FailureReason, s.StoreURL,
		s.DBRootPassword, s.DBName, s.DBUser, s.DBPassword,
		s.AdminUsername, s.AdminPassword, s.AdminEmail,
		s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateName
		}
		return fmt.Errorf("inserting store: %w", err)
	}
	return nil
}

// GetByID returns the store with the given ID, or ErrNotFound.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Store, error) {
	query := `SELECT ` + storeColumns + ` FROM stores WHERE id = $1`
	s, err := scanStore(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting store by id: %w", err)
	}
	return s, nil
}

// GetByName returns the store with the given name, or ErrNotFound.
func (r *PostgresRepository) GetByName(ctx context.Context, name string) (*Store, error) {
	query := `SELECT ` + storeColumns + ` FROM stores WHERE name = $1`
	s, err := scanStore(r.pool.QueryRow(ctx, query, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting store by name: %w", err)
	}
	return s, nil
}

// List returns all store records, newest first.
func (r *PostgresRepository) List(ctx context.Context) ([]*Store, error) {
	query := `SELECT ` + storeColumns + ` FROM stores ORDER BY created_at DESC`
	return r.queryStores(ctx, query)
}

// ListByStatus returns all stores with the given status.
func (r *PostgresRepository) ListByStatus(ctx context.Context, status Status) ([]*Store, error) {
	query := `SELECT ` + storeColumns + ` FROM stores WHERE status = $1 ORDER BY created_at DESC`
	return r.queryStores(ctx, query, status)
}

func (r *PostgresRepository) queryStores(ctx context.Context, query string, args ...any) ([]*Store, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying stores: %w", err)
	}
	defer rows.Close()

	var out []*Store
	for rows.Next() {
		s, err := scanStore(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning store row: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating store rows: %w", err)
	}
	return out, nil
}

// UpdateStatus atomically transitions a store's status, refusing any
// transition not permitted by the status graph.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, upd StatusUpdate) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var current Status
	err = tx.QueryRow(ctx, `SELECT status FROM stores WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("locking store row: %w", err)
	}

	if !CanTransition(current, upd.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, upd.Status)
	}

	_, err = tx.Exec(ctx, `UPDATE stores SET status = $1, failure_reason = $2, store_url = $3, updated_at = $4 WHERE id = $5`,
		upd.Status, upd.FailureReason, upd.StoreURL, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating store status: %w", err)
	}

	return tx.Commit(ctx)
}
