// Package executor runs generated SQL against a file-based SQLite data
// source and materializes the full result set.
package executor

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// Table is a fully materialized query result. Every value is rendered as a
// string; NULLs render as the empty string.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Sample returns the condensed textual representation of the result used to
// ground later analysis turns: the header plus the first row, pipe-delimited,
// one per line. Returns "" for a result with no rows.
func (t *Table) Sample() string {
	if t == nil || len(t.Rows) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(strings.Join(t.Columns, "|"))
	b.WriteString("\n")
	b.WriteString(strings.Join(t.Rows[0], "|"))
	b.WriteString("\n")
	return b.String()
}

// Execute opens the SQLite database at dbPath, runs the query and returns
// every row. The connection is closed unconditionally, success or failure.
func Execute(ctx context.Context, dbPath, query string) (*Table, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening data source %s: %w", dbPath, err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("connecting to data source %s: %w", dbPath, err)
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading result columns: %w", err)
	}

	table := &Table{Columns: columns}
	for rows.Next() {
		values := make([]sql.NullString, len(columns))
		scanTargets := make([]interface{}, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("scanning result row: %w", err)
		}
		row := make([]string, len(columns))
		for i, v := range values {
			if v.Valid {
				row[i] = v.String
			}
		}
		table.Rows = append(table.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating result rows: %w", err)
	}
	return table, nil
}
