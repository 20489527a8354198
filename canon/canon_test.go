package canon

import (
	"errors"
	"testing"
)

func TestURL(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"https://www.cian.ru/rent/flat/301234567/", "https://cian.ru/rent/flat/301234567"},
		{"http://spb.cian.ru/rent/flat/301234567/?utm_source=tg#photos", "https://cian.ru/rent/flat/301234567"},
		{"https://CIAN.RU/rent/flat/301234567", "https://cian.ru/rent/flat/301234567"},
		{"https://realty.yandex.ru/offer/7331882917266563585/", "https://realty.yandex.ru/offer/7331882917266563585"},
		{"https://m.realty.yandex.ru/offer/7331882917266563585/?from=share", "https://realty.yandex.ru/offer/7331882917266563585"},
		{"https://realty.ya.ru/offer/42", "https://realty.yandex.ru/offer/42"},
		{"https://www.Example.com:8443/a/b/?q=1", "https://example.com/a/b"},
		{"example.com/x/", "https://example.com/x"},
	}

	for _, tt := range tests {
		got, err := URL(tt.raw)
		if err != nil {
			t.Errorf("URL(%q) error: %v", tt.raw, err)
			continue
		}
		if got != tt.want {
			t.Errorf("URL(%q) = %q; want %q", tt.raw, got, tt.want)
		}
	}
}

func TestURLRejectsBadInput(t *testing.T) {
	if _, err := URL("  "); !errors.Is(err, ErrEmptyURL) {
		t.Errorf("blank url: got %v, want ErrEmptyURL", err)
	}
	if _, err := URL("https://"); err == nil {
		t.Error("url without host should fail")
	}
	if _, err := URL("https://exa mple.com/%zz"); err == nil {
		t.Error("unparsable url should fail")
	}
}

func TestFingerprintStableAcrossFormatting(t *testing.T) {
	a := Fingerprint(45000, 1, 35.04, "  Москва, ул. Ленина,  5 ")
	b := Fingerprint(45000, 1, 35.0, "москва, УЛ. ленина, 5")
	if a != b {
		t.Errorf("fingerprints differ: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("fingerprint length: got %d, want 64", len(a))
	}
}

func TestFingerprintDistinguishesAttributes(t *testing.T) {
	base := Fingerprint(45000, 1, 35, "Москва, ул. Ленина, 5")
	for name, fp := range map[string]string{
		"price":   Fingerprint(46000, 1, 35, "Москва, ул. Ленина, 5"),
		"rooms":   Fingerprint(45000, 2, 35, "Москва, ул. Ленина, 5"),
		"area":    Fingerprint(45000, 1, 35.2, "Москва, ул. Ленина, 5"),
		"address": Fingerprint(45000, 1, 35, "Москва, ул. Ленина, 7"),
	} {
		if fp == base {
			t.Errorf("changing %s should change the fingerprint", name)
		}
	}
}

func TestSameAddress(t *testing.T) {
	if !SameAddress("Москва,  Тверская 1", "МОСКВА, тверская 1 ") {
		t.Error("addresses differing in case and spacing should match")
	}
	if SameAddress("Москва, Тверская 1", "Москва, Тверская 11") {
		t.Error("different addresses should not match")
	}
}
