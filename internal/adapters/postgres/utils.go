package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const DefaultQueryTimeout = 30 * time.Second

// DBTX is the query surface shared by pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// withTimeout wraps a context with a default query timeout if not already set
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultQueryTimeout)
}

// checkNoRows returns true if the error is pgx.ErrNoRows (indicating no result found)
func checkNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// mapNotFound turns pgx.ErrNoRows into the given domain sentinel.
func mapNotFound(err error, notFound error) error {
	if checkNoRows(err) {
		return notFound
	}
	return err
}

// requireAffected reports notFound when an update touched no rows.
func requireAffected(tag pgconn.CommandTag, err error, notFound error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound
	}
	return nil
}

func marshalParts[T any](parts []T) ([]byte, error) {
	if parts == nil {
		return []byte("[]"), nil
	}
	data, err := json.Marshal(parts)
	if err != nil {
		return nil, fmt.Errorf("marshal parts: %w", err)
	}
	return data, nil
}

// unmarshalJSONSlice unmarshals JSON data into a slice of type T
// Returns nil slice if data is empty
func unmarshalJSONSlice[T any](data []byte) ([]T, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var result []T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return result, nil
}
