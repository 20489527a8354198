package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"flat-notifier/models"
	"flat-notifier/utils"
)

func openMemory(t *testing.T) *SQLLedger {
	t.Helper()
	l, err := Open(context.Background(), "sqlite3", ":memory:", utils.Discard())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func sampleRecord(url string, postedAt time.Time) *models.ListingRecord {
	return &models.ListingRecord{
		CanonicalURL: url,
		Fingerprint:  "fp-" + url,
		Source:       models.SourceCian,
		ExternalID:   "1",
		URL:          url + "/?utm=1",
		Price:        45000,
		Rooms:        1,
		Area:         35.5,
		Address:      "Москва, ул. Ленина, 5",
		PostedAt:     postedAt,
	}
}

func TestUpsertListingInsertsOnce(t *testing.T) {
	ctx := context.Background()
	l := openMemory(t)
	rec := sampleRecord("https://cian.ru/rent/flat/1", time.Now())

	inserted, err := l.UpsertListing(ctx, rec)
	if err != nil || !inserted {
		t.Fatalf("first upsert: inserted=%v err=%v", inserted, err)
	}

	changed := *rec
	changed.Price = 1
	inserted, err = l.UpsertListing(ctx, &changed)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if inserted {
		t.Error("second upsert of the same canonical url should be a no-op")
	}

	similar, err := l.FindSimilar(ctx, 45000, 1, 35.5)
	if err != nil {
		t.Fatalf("find similar: %v", err)
	}
	if len(similar) != 1 {
		t.Fatalf("expected the original row to survive, got %d rows", len(similar))
	}

	ok, err := l.ListingExists(ctx, rec.CanonicalURL)
	if err != nil || !ok {
		t.Errorf("ListingExists: got %v, %v", ok, err)
	}
}

func TestUpsertListingRejectsEmptyKey(t *testing.T) {
	l := openMemory(t)
	_, err := l.UpsertListing(context.Background(), &models.ListingRecord{})
	var storeErr *StoreCorruptionError
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected StoreCorruptionError, got %v", err)
	}
}

func TestRecordDeliveryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l := openMemory(t)
	url := "https://cian.ru/rent/flat/1"

	delivered, err := l.HasDelivered(ctx, url, 100)
	if err != nil || delivered {
		t.Fatalf("HasDelivered before record: %v, %v", delivered, err)
	}

	recorded, err := l.RecordDelivery(ctx, url, 100)
	if err != nil || !recorded {
		t.Fatalf("first record: %v, %v", recorded, err)
	}
	recorded, err = l.RecordDelivery(ctx, url, 100)
	if err != nil {
		t.Fatalf("second record must not fail: %v", err)
	}
	if recorded {
		t.Error("second record should report no new row")
	}

	delivered, err = l.HasDelivered(ctx, url, 100)
	if err != nil || !delivered {
		t.Errorf("HasDelivered after record: %v, %v", delivered, err)
	}
	delivered, err = l.HasDelivered(ctx, url, 200)
	if err != nil || delivered {
		t.Errorf("other destination must not be marked: %v, %v", delivered, err)
	}

	_, deliveries, err := l.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if deliveries != 1 {
		t.Errorf("deliveries: got %d, want 1", deliveries)
	}
}

func TestFindByFingerprint(t *testing.T) {
	ctx := context.Background()
	l := openMemory(t)
	rec := sampleRecord("https://cian.ru/rent/flat/1", time.Now())
	if _, err := l.UpsertListing(ctx, rec); err != nil {
		t.Fatal(err)
	}

	url, ok, err := l.FindByFingerprint(ctx, rec.Fingerprint)
	if err != nil || !ok || url != rec.CanonicalURL {
		t.Errorf("FindByFingerprint: got %q, %v, %v", url, ok, err)
	}
	if _, ok, _ := l.FindByFingerprint(ctx, "missing"); ok {
		t.Error("unknown fingerprint should not match")
	}
	if _, ok, _ := l.FindByFingerprint(ctx, ""); ok {
		t.Error("empty fingerprint should never match")
	}
}

func TestFindSimilarAreaWindow(t *testing.T) {
	ctx := context.Background()
	l := openMemory(t)
	if _, err := l.UpsertListing(ctx, sampleRecord("https://cian.ru/rent/flat/1", time.Now())); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		area float64
		want int
	}{
		{35.5, 1},
		{36.4, 1},
		{34.6, 1},
		{36.5, 0},
		{34.5, 0},
	}
	for _, tt := range tests {
		got, err := l.FindSimilar(ctx, 45000, 1, tt.area)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != tt.want {
			t.Errorf("FindSimilar(area=%.1f): got %d rows, want %d", tt.area, len(got), tt.want)
		}
	}

	if got, _ := l.FindSimilar(ctx, 45001, 1, 35.5); len(got) != 0 {
		t.Error("different price should not match")
	}
	if got, _ := l.FindSimilar(ctx, 45000, 2, 35.5); len(got) != 0 {
		t.Error("different rooms should not match")
	}
}

func TestPruneCascadesToDeliveries(t *testing.T) {
	ctx := context.Background()
	l := openMemory(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	oldURL := "https://cian.ru/rent/flat/old"
	newURL := "https://cian.ru/rent/flat/new"
	for _, rec := range []*models.ListingRecord{
		sampleRecord(oldURL, now.AddDate(0, 0, -40)),
		sampleRecord(newURL, now.AddDate(0, 0, -5)),
	} {
		if _, err := l.UpsertListing(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	for _, url := range []string{oldURL, newURL} {
		if _, err := l.RecordDelivery(ctx, url, 100); err != nil {
			t.Fatal(err)
		}
	}

	res, err := l.Prune(ctx, now.AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if res.DeletedListings != 1 || res.DeletedDeliveries != 1 {
		t.Errorf("prune result: got %+v, want 1 listing and 1 delivery", res)
	}

	if ok, _ := l.ListingExists(ctx, oldURL); ok {
		t.Error("old listing should be pruned")
	}
	if ok, _ := l.HasDelivered(ctx, oldURL, 100); ok {
		t.Error("delivery of pruned listing should be pruned")
	}
	if ok, _ := l.ListingExists(ctx, newURL); !ok {
		t.Error("recent listing should survive")
	}
	if ok, _ := l.HasDelivered(ctx, newURL, 100); !ok {
		t.Error("delivery of recent listing should survive")
	}
}

func createLegacyStore(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	stmts := []string{
		`CREATE TABLE offers(
			offer_id  INTEGER PRIMARY KEY,
			url       TEXT,
			price     INT,
			address   TEXT,
			area      REAL,
			rooms     INT,
			date      TEXT
		)`,
		`CREATE TABLE sent(
			offer_id  INTEGER,
			chat_id   INTEGER,
			PRIMARY KEY (offer_id, chat_id)
		)`,
		`INSERT INTO offers VALUES (101, 'https://www.cian.ru/rent/flat/101/', 45000, 'Москва, ул. Ленина, 5', 35.5, 1, '2024-05-01 10:00:00')`,
		`INSERT INTO offers VALUES (202, 'https://realty.yandex.ru/offer/202/', 40000, 'Москва, Тверская, 1', 30, 1, '2024-05-02 10:00:00')`,
		`INSERT INTO sent VALUES (101, 100)`,
		`INSERT INTO sent VALUES (101, 200)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("legacy setup %q: %v", s, err)
		}
	}
}

func TestOpenMigratesLegacyStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "offers.db")
	createLegacyStore(t, path)

	l, err := Open(ctx, "sqlite3", path, utils.Discard())
	if err != nil {
		t.Fatalf("open legacy store: %v", err)
	}
	defer l.Close()

	listings, deliveries, err := l.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if listings != 2 || deliveries != 2 {
		t.Fatalf("rows lost in migration: %d listings, %d deliveries", listings, deliveries)
	}

	for _, dest := range []int64{100, 200} {
		ok, err := l.HasDelivered(ctx, "legacy:101", dest)
		if err != nil || !ok {
			t.Errorf("legacy delivery to %d not recognised: %v, %v", dest, ok, err)
		}
	}

	similar, err := l.FindSimilar(ctx, 45000, 1, 35.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(similar) != 1 || similar[0].CanonicalURL != "legacy:101" {
		t.Fatalf("legacy listing not found by attributes: %+v", similar)
	}
	if similar[0].Address != "Москва, ул. Ленина, 5" {
		t.Errorf("legacy address: got %q", similar[0].Address)
	}

	// New rows go into the adopted tables alongside the legacy ones.
	if _, err := l.UpsertListing(ctx, sampleRecord("https://cian.ru/rent/flat/303", time.Now())); err != nil {
		t.Fatalf("upsert after migration: %v", err)
	}
	if _, err := l.RecordDelivery(ctx, "https://cian.ru/rent/flat/303", 100); err != nil {
		t.Fatalf("record after migration: %v", err)
	}

	// posted_at was copied from the legacy date column, so retention applies.
	res, err := l.Prune(ctx, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if res.DeletedListings != 1 || res.DeletedDeliveries != 2 {
		t.Errorf("prune of legacy rows: got %+v, want 1 listing and 2 deliveries", res)
	}
}

func TestOpenMigratesURLKeyedStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "offers.db")

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range []string{
		`CREATE TABLE offers(url TEXT PRIMARY KEY, price INT, address TEXT, area REAL, rooms INT, date TEXT)`,
		`CREATE TABLE sent(url TEXT, chat_id INTEGER, PRIMARY KEY (url, chat_id))`,
		`INSERT INTO offers VALUES ('https://www.cian.ru/rent/flat/101/?utm=a', 45000, 'Москва, ул. Ленина, 5', 35.5, 1, '2024-05-01 10:00:00')`,
		`INSERT INTO offers VALUES ('https://realty.yandex.ru/offer/202/', 40000, 'Москва, Тверская, 1', 30, 1, '2024-05-02 10:00:00')`,
		`INSERT INTO sent VALUES ('https://www.cian.ru/rent/flat/101/?utm=a', 100)`,
	} {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("legacy setup %q: %v", s, err)
		}
	}
	_ = db.Close()

	l, err := Open(ctx, "sqlite3", path, utils.Discard())
	if err != nil {
		t.Fatalf("open legacy store: %v", err)
	}
	defer l.Close()

	for _, url := range []string{"https://cian.ru/rent/flat/101", "https://realty.yandex.ru/offer/202"} {
		ok, err := l.ListingExists(ctx, url)
		if err != nil || !ok {
			t.Errorf("ListingExists(%s): %v, %v", url, ok, err)
		}
	}

	tests := []struct {
		dest int64
		want bool
	}{
		{100, true},
		{200, false},
	}
	for _, tt := range tests {
		ok, err := l.HasDelivered(ctx, "https://cian.ru/rent/flat/101", tt.dest)
		if err != nil || ok != tt.want {
			t.Errorf("HasDelivered(101, %d): got %v, %v; want %v", tt.dest, ok, err, tt.want)
		}
	}

	listings, deliveries, err := l.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if listings != 2 || deliveries != 1 {
		t.Errorf("rows lost in migration: %d listings, %d deliveries", listings, deliveries)
	}
}

func TestURLBackfillKeepsRawOnCollision(t *testing.T) {
	m := &migration{}
	first := m.keyFor("https://m.cian.ru/rent/flat/7/")
	second := m.keyFor("https://www.cian.ru/rent/flat/7/?utm=b")

	if first != "https://cian.ru/rent/flat/7" {
		t.Errorf("first key = %q", first)
	}
	if second != "https://www.cian.ru/rent/flat/7/?utm=b" {
		t.Errorf("colliding url should keep its raw key, got %q", second)
	}
	if again := m.keyFor("https://m.cian.ru/rent/flat/7/"); again != first {
		t.Errorf("mapping not stable: %q", again)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "offers.db")
	createLegacyStore(t, path)

	for i := 0; i < 2; i++ {
		l, err := Open(ctx, "sqlite3", path, utils.Discard())
		if err != nil {
			t.Fatalf("open #%d: %v", i+1, err)
		}
		listings, deliveries, err := l.Counts(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if listings != 2 || deliveries != 2 {
			t.Errorf("open #%d: %d listings, %d deliveries", i+1, listings, deliveries)
		}
		_ = l.Close()
	}
}

func TestOpenAddsMissingColumns(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "offers.db")

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`CREATE TABLE listings (canonical_url TEXT PRIMARY KEY, price INT, rooms INT, area REAL, address TEXT)`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO listings VALUES ('https://cian.ru/rent/flat/9', 45000, 1, 35, 'addr')`); err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	l, err := Open(ctx, "sqlite3", path, utils.Discard())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer l.Close()

	if ok, err := l.ListingExists(ctx, "https://cian.ru/rent/flat/9"); err != nil || !ok {
		t.Errorf("existing row lost: %v, %v", ok, err)
	}
	if _, err := l.UpsertListing(ctx, sampleRecord("https://cian.ru/rent/flat/10", time.Now())); err != nil {
		t.Errorf("upsert using added columns: %v", err)
	}
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "offers.db")

	l, err := Open(ctx, "sqlite3", path, utils.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.db.Exec(`INSERT INTO schema_version (version, applied_at) VALUES (99, '2030-01-01 00:00:00')`); err != nil {
		t.Fatal(err)
	}
	_ = l.Close()

	_, err = Open(ctx, "sqlite3", path, utils.Discard())
	var storeErr *StoreCorruptionError
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected StoreCorruptionError, got %v", err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "x", utils.Discard())
	var storeErr *StoreCorruptionError
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected StoreCorruptionError, got %v", err)
	}
}
