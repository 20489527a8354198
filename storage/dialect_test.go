package storage

import "testing"

func TestRebind(t *testing.T) {
	q := `SELECT 1 FROM deliveries WHERE canonical_url = ? AND destination_id = ?`

	if got := sqliteDialect.rebind(q); got != q {
		t.Errorf("sqlite rebind changed the query: %q", got)
	}
	want := `SELECT 1 FROM deliveries WHERE canonical_url = $1 AND destination_id = $2`
	if got := postgresDialect.rebind(q); got != want {
		t.Errorf("postgres rebind: got %q, want %q", got, want)
	}
}

func TestDialectFor(t *testing.T) {
	for driver, want := range map[string]string{
		"sqlite3":    "sqlite",
		"sqlite":     "sqlite",
		"postgres":   "postgres",
		"postgresql": "postgres",
	} {
		d, err := dialectFor(driver)
		if err != nil || d.name != want {
			t.Errorf("dialectFor(%q) = %q, %v; want %q", driver, d.name, err, want)
		}
	}
	if _, err := dialectFor("mysql"); err == nil {
		t.Error("unsupported driver should fail")
	}
}

func TestCastTimestamp(t *testing.T) {
	if got := sqliteDialect.castTimestamp("date"); got != "date" {
		t.Errorf("sqlite cast: got %q", got)
	}
	if got := postgresDialect.castTimestamp("date"); got != "CAST(date AS TIMESTAMPTZ)" {
		t.Errorf("postgres cast: got %q", got)
	}
}
