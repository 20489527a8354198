// Package canon derives the durable identity keys of a listing: the canonical
// URL and the content fingerprint.
package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strings"
)

// ErrEmptyURL is returned by URL for blank input.
var ErrEmptyURL = errors.New("empty url")

var (
	// cianPathRegexp matches offer paths such as /rent/flat/301234567/.
	cianPathRegexp = regexp.MustCompile(`^/(rent|sale)/(flat|room|suburban|commercial)/(\d+)`)
	// yandexPathRegexp matches offer paths such as /offer/7331882917266563585/.
	yandexPathRegexp = regexp.MustCompile(`/offer/(\d+)`)
)

// URL returns the canonical form of a listing URL: https scheme, lower-cased
// host without www./m. aliases or regional subdomains, the provider's offer
// path when recognised, no query, no fragment, no trailing slash.
func URL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrEmptyURL
	}
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	} else if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}
	for {
		trimmed := strings.TrimPrefix(strings.TrimPrefix(host, "www."), "m.")
		if trimmed == host {
			break
		}
		host = trimmed
	}

	path := u.Path
	switch {
	case host == "cian.ru" || strings.HasSuffix(host, ".cian.ru"):
		host = "cian.ru"
		if m := cianPathRegexp.FindStringSubmatch(path); m != nil {
			path = "/" + m[1] + "/" + m[2] + "/" + m[3]
		}
	case host == "realty.yandex.ru" || host == "realty.ya.ru":
		host = "realty.yandex.ru"
		if m := yandexPathRegexp.FindStringSubmatch(path); m != nil {
			path = "/offer/" + m[1]
		}
	}

	return "https://" + host + strings.TrimRight(path, "/"), nil
}

// Address lower-cases an address and collapses its whitespace.
func Address(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// SameAddress reports whether two addresses are equal ignoring case and
// whitespace layout.
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.Join(strings.Fields(a), " "), strings.Join(strings.Fields(b), " "))
}

// Fingerprint hashes the stable descriptive attributes of a listing. Two
// reposts of the same flat under different URLs share a fingerprint.
func Fingerprint(price, rooms int, area float64, address string) string {
	area = math.Round(area*10) / 10
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%d|%.1f|%s", price, rooms, area, Address(address))))
	return hex.EncodeToString(sum[:])
}
