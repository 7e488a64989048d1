package postgres

import (
	"context"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
)

// Row is a result row keyed by column name.
type Row map[string]any

// Get returns the value of the named column, or nil if there is no such column.
func (r Row) Get(name string) any {
	return r[name]
}

// Exec runs a statement and returns the number of rows it affected.
func (c *Client) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	var affected int64

	err := c.Run(ctx, sql, args, func(ctx context.Context, h Handle) error {
		tag, err := h.Exec(ctx, sql, args...)
		if err != nil {
			return err
		}

		affected = tag.RowsAffected()

		return nil
	})

	return affected, err
}

// ExecMany runs the same statement once for every argument set and returns
// the total number of rows affected. It stops at the first failure.
func (c *Client) ExecMany(ctx context.Context, sql string, argSets [][]any) (int64, error) {
	var affected int64

	err := c.Run(ctx, sql, nil, func(ctx context.Context, h Handle) error {
		for i, args := range argSets {
			tag, err := h.Exec(ctx, sql, args...)
			if err != nil {
				return fmt.Errorf("argument set %d: %w", i, err)
			}

			affected += tag.RowsAffected()
		}

		return nil
	})

	return affected, err
}

// Query runs a statement and returns every row it yields.
func (c *Client) Query(ctx context.Context, sql string, args ...any) ([]Row, error) {
	var result []Row

	err := c.Run(ctx, sql, args, func(ctx context.Context, h Handle) error {
		rows, err := h.Query(ctx, sql, args...)
		if err != nil {
			return err
		}

		maps, err := pgx.CollectRows(rows, pgx.RowToMap)
		if err != nil {
			return err
		}

		result = make([]Row, len(maps))
		for i, m := range maps {
			result[i] = m
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetRow returns the single row a statement yields, or nil when it yields
// none. More than one row is an error wrapping ErrTooManyRows.
func (c *Client) GetRow(ctx context.Context, sql string, args ...any) (Row, error) {
	rows, err := c.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}

	switch len(rows) {
	case 0:
		return nil, nil
	case 1:
		return rows[0], nil
	default:
		return nil, fmt.Errorf("%w: got %d rows", ErrTooManyRows, len(rows))
	}
}

// Select scans every row into dst, which must be a pointer to a slice of
// structs, maps or scalars.
func (c *Client) Select(ctx context.Context, dst any, sql string, args ...any) error {
	return c.Run(ctx, sql, args, func(ctx context.Context, h Handle) error {
		return pgxscan.Select(ctx, h, dst, sql, args...)
	})
}

// Get scans exactly one row into dst. When there is no row the error
// satisfies IsNotFound.
func (c *Client) Get(ctx context.Context, dst any, sql string, args ...any) error {
	return c.Run(ctx, sql, args, func(ctx context.Context, h Handle) error {
		return pgxscan.Get(ctx, h, dst, sql, args...)
	})
}

// IsNotFound reports whether err is the no-rows error returned by Get.
func IsNotFound(err error) bool {
	return pgxscan.NotFound(err)
}
