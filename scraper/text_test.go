package scraper

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestTextUnmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want Text
	}{
		{`"35.5"`, "35.5"},
		{`35.5`, "35.5"},
		{`45000`, "45000"},
		{`null`, ""},
		{`"STUDIO"`, "STUDIO"},
		{`7331882917266563585`, "7331882917266563585"},
	}

	for _, tt := range tests {
		var got Text
		if err := json.Unmarshal([]byte(tt.in), &got); err != nil {
			t.Errorf("Unmarshal(%s): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Unmarshal(%s) = %q; want %q", tt.in, got, tt.want)
		}
	}

	var got Text
	if err := json.Unmarshal([]byte(`{"a":1}`), &got); err == nil {
		t.Error("an object should not decode into Text")
	}
}

func TestFetchErrorUnwraps(t *testing.T) {
	cause := &StatusError{StatusCode: 503}
	err := error(&FetchError{Source: "cian", Op: "search", Err: cause})

	var status *StatusError
	if !errors.As(err, &status) || !status.Retryable() {
		t.Fatalf("want retryable StatusError, got %v", err)
	}
	if err.Error() != "cian: search: unexpected status 503" {
		t.Errorf("Error() = %q", err.Error())
	}
}
