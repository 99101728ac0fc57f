package remote

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/loomnotes/loom/internal/mapper"
	"github.com/loomnotes/loom/internal/schema"
)

// dialect captures the differences between the supported SQL backends.
type dialect struct {
	name   string
	driver string
	// dollarParams selects $1, $2, ... placeholders instead of ?.
	dollarParams bool
	intType      string
	// pragmas run once after the pool is opened.
	pragmas []string
	// maxOpen overrides the default pool size when non-zero.
	maxOpen int
}

var dialects = map[string]*dialect{
	"sqlite": {
		name:    "sqlite",
		driver:  "sqlite3",
		intType: "INTEGER",
		pragmas: []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
			"PRAGMA synchronous=NORMAL",
		},
		// SQLite allows a single writer.
		maxOpen: 1,
	},
	"postgres": {
		name:         "postgres",
		driver:       "pgx",
		dollarParams: true,
		intType:      "BIGINT",
	},
}

// dialectFor picks the dialect and driver DSN for a connection string.
func dialectFor(dsn string) (*dialect, string, error) {
	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return dialects["postgres"], dsn, nil
	case strings.HasPrefix(lower, "libsql://"), strings.HasPrefix(lower, "https://"), strings.HasPrefix(lower, "http://"):
		d, ok := dialects["libsql"]
		if !ok {
			return nil, "", fmt.Errorf("libsql DSN %q requires a build with cgo enabled", redact(dsn))
		}
		return d, dsn, nil
	case strings.HasPrefix(lower, "file:"):
		return dialects["sqlite"], dsn, nil
	case dsn == ":memory:", strings.HasSuffix(lower, ".db"), strings.HasSuffix(lower, ".sqlite"), strings.HasSuffix(lower, ".sqlite3"):
		return dialects["sqlite"], "file:" + dsn, nil
	default:
		return nil, "", fmt.Errorf("unsupported remote DSN %q", redact(dsn))
	}
}

// rebind rewrites ? placeholders for dialects that number their parameters.
func (d *dialect) rebind(query string) string {
	if !d.dollarParams {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ddl returns the CREATE statements for every table, derived from the
// mapper's column tables.
func (d *dialect) ddl() []string {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS creators (
	id %s PRIMARY KEY,
	code TEXT,
	name TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL DEFAULT ''
)`, d.intType),
		`CREATE INDEX IF NOT EXISTS idx_creators_code ON creators(code)`,
	}

	for _, kind := range schema.AllKinds {
		table := kind.Table()
		var cols []string
		for _, f := range mapper.Fields(kind) {
			col := f.Remote + " " + d.columnType(f.Type)
			switch {
			case f.Remote == "id":
				col += " PRIMARY KEY"
			case !f.Nullable:
				col += " NOT NULL"
			}
			cols = append(cols, col)
		}
		stmts = append(stmts,
			fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", table, strings.Join(cols, ",\n\t")),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_code ON %s(code)", table, table),
		)
		if kind == schema.KindProject {
			stmts = append(stmts, "CREATE INDEX IF NOT EXISTS idx_projects_creator ON projects(creator_id)")
		} else {
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_project ON %s(project_id)", table, table))
		}
	}
	return stmts
}

func (d *dialect) columnType(t mapper.FieldType) string {
	switch t {
	case mapper.Int, mapper.Bool:
		return d.intType
	default:
		return "TEXT"
	}
}

// redact hides credentials embedded in a DSN.
func redact(dsn string) string {
	if i := strings.Index(dsn, "@"); i > 0 {
		if j := strings.Index(dsn, "://"); j > 0 && j < i {
			return dsn[:j+3] + "***" + dsn[i:]
		}
	}
	if i := strings.Index(dsn, "authToken="); i > 0 {
		return dsn[:i] + "authToken=***"
	}
	return dsn
}
