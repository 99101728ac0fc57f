package remote

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/loomnotes/loom/internal/mapper"
	"github.com/loomnotes/loom/internal/schema"
)

// scanRows reads every row of rows into schema.Row values. Byte slices are
// converted to strings so rows compare the same across drivers.
func scanRows(rows *sql.Rows) ([]schema.Row, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	var out []schema.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(schema.Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return out, nil
}

// selectList returns the column list of kind's table.
func selectList(kind schema.Kind) string {
	return strings.Join(mapper.Columns(kind), ", ")
}

// rowValues orders row's values by kind's columns, keeping only columns the
// table knows.
func rowValues(kind schema.Kind, row schema.Row) (cols []string, args []any) {
	for _, col := range mapper.Columns(kind) {
		v, ok := row[col]
		if !ok {
			continue
		}
		cols = append(cols, col)
		args = append(args, v)
	}
	return cols, args
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
