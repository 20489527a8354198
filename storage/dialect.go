package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// dialect captures the SQL differences between the supported backends.
// Queries are written with ? placeholders and rebound per dialect.
type dialect struct {
	name          string
	driver        string
	timestampType string
	numbered      bool

	tableExists string
	columns     string
}

var sqliteDialect = dialect{
	name:          "sqlite",
	driver:        "sqlite3",
	timestampType: "TIMESTAMP",
	tableExists:   `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`,
	columns:       `SELECT name FROM pragma_table_info(?)`,
}

var postgresDialect = dialect{
	name:          "postgres",
	driver:        "postgres",
	timestampType: "TIMESTAMPTZ",
	numbered:      true,
	tableExists: `SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_name = ?`,
	columns: `SELECT column_name FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = ?`,
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case "sqlite3", "sqlite":
		return sqliteDialect, nil
	case "postgres", "postgresql":
		return postgresDialect, nil
	default:
		return dialect{}, fmt.Errorf("unsupported driver %q", driver)
	}
}

// rebind turns ? placeholders into $1, $2, ... for dialects that need it.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// castTimestamp converts a legacy text column to the timestamp type.
func (d dialect) castTimestamp(expr string) string {
	if d.name == "postgres" {
		return "CAST(" + expr + " AS " + d.timestampType + ")"
	}
	return expr
}
