package services

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	"flat-notifier/models"
)

// sourceTitles are the display names used in chat messages.
var sourceTitles = map[models.Source]string{
	models.SourceCian:   "Циан",
	models.SourceYandex: "Яндекс",
}

// FormatListing renders the HTML message for one listing. The link goes first
// so the client builds a preview from it.
func FormatListing(l *models.Listing) string {
	return fmt.Sprintf("%s\n<b>%s ₽</b> · %d-к, %s м²\n%s",
		html.EscapeString(l.RawURL),
		groupThousands(l.Price),
		l.RoomCount,
		strconv.FormatFloat(l.AreaSqm, 'f', -1, 64),
		html.EscapeString(l.Address),
	)
}

// FormatSummary renders the end-of-run message: per provider, how many
// listings were fetched and how many new ones were delivered.
func FormatSummary(s *models.RunSummary) string {
	var b strings.Builder
	b.WriteString("ℹ️ <b>Сводка</b>")
	for _, st := range s.Sources {
		title, ok := sourceTitles[st.Source]
		if !ok {
			title = string(st.Source)
		}
		fmt.Fprintf(&b, "\n%s — %d / новых %d", title, st.Fetched, st.Delivered)
	}
	return b.String()
}

// groupThousands formats 45000 as "45 000".
func groupThousands(n int) string {
	s := strconv.Itoa(n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
