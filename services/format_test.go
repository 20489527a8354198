package services

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"flat-notifier/models"
)

func TestGroupThousands(t *testing.T) {
	tests := map[int]string{
		0:       "0",
		999:     "999",
		1000:    "1 000",
		45000:   "45 000",
		1234567: "1 234 567",
		-1500:   "-1 500",
	}
	for n, want := range tests {
		if got := groupThousands(n); got != want {
			t.Errorf("groupThousands(%d) = %q; want %q", n, got, want)
		}
	}
}

func TestFormatListing(t *testing.T) {
	l := &models.Listing{
		RawURL:    "https://www.cian.ru/rent/flat/1/?a=1&b=2",
		Price:     45000,
		RoomCount: 1,
		AreaSqm:   35.5,
		Address:   "Москва, ул. Ленина, 1 <корп. 2>",
	}
	want := "https://www.cian.ru/rent/flat/1/?a=1&amp;b=2\n" +
		"<b>45 000 ₽</b> · 1-к, 35.5 м²\n" +
		"Москва, ул. Ленина, 1 &lt;корп. 2&gt;"
	if got := FormatListing(l); got != want {
		t.Errorf("FormatListing:\n got %q\nwant %q", got, want)
	}
}

func TestFormatSummary(t *testing.T) {
	s := &models.RunSummary{}
	s.Stats(models.SourceCian).Fetched = 28
	s.Stats(models.SourceCian).Delivered = 2
	s.Stats(models.SourceYandex).Fetched = 20

	want := "ℹ️ <b>Сводка</b>\nЦиан — 28 / новых 2\nЯндекс — 20 / новых 0"
	if got := FormatSummary(s); got != want {
		t.Errorf("FormatSummary:\n got %q\nwant %q", got, want)
	}
}

func TestSummaryServicePrint(t *testing.T) {
	start := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	s := &models.RunSummary{RunID: "run-1", StartedAt: start, FinishedAt: start.Add(3 * time.Second)}
	s.Stats(models.SourceCian).Processed = 4
	s.Stats(models.SourceYandex).FetchFailed = true

	var buf bytes.Buffer
	NewSummaryServiceTo(&buf).Print(s)
	out := buf.String()

	for _, want := range []string{"run-1", "Listings processed  : \033[1m4", "yandex", "fetch failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q", want)
		}
	}
}
