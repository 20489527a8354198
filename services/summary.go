package services

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"flat-notifier/models"
)

// SummaryService prints the end-of-run report to the console.
type SummaryService struct {
	out io.Writer
}

func NewSummaryService() *SummaryService {
	return &SummaryService{out: os.Stdout}
}

// NewSummaryServiceTo prints to w instead of stdout.
func NewSummaryServiceTo(w io.Writer) *SummaryService {
	return &SummaryService{out: w}
}

func (s *SummaryService) Print(r *models.RunSummary) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)
	w := s.out

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  🏠 FLAT NOTIFIER RUN SUMMARY\033[0m\n")
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	fmt.Fprintf(w, "\033[1;33m  Overview\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Run id              : %s\n", r.RunID)
	if !r.FinishedAt.IsZero() {
		fmt.Fprintf(w, "  Duration            : %s\n", r.FinishedAt.Sub(r.StartedAt).Round(100*time.Millisecond))
	}
	fmt.Fprintf(w, "  Listings processed  : \033[1m%d\033[0m\n", r.Processed())
	fmt.Fprintf(w, "  New listings stored : \033[1m%d\033[0m\n", r.Recorded())
	fmt.Fprintf(w, "  New deliveries      : \033[1;32m%d\033[0m\n", r.Delivered())
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  By Provider\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.Sources) == 0 {
		fmt.Fprintf(w, "  No providers ran\n")
	}
	for _, st := range r.Sources {
		if st.FetchFailed {
			fmt.Fprintf(w, "  %-8s \033[1;31mfetch failed\033[0m\n", st.Source)
			continue
		}
		fmt.Fprintf(w, "  %-8s fetched %3d · processed %3d · malformed %2d · skipped %3d · new %3d · sent %3d",
			st.Source, st.Fetched, st.Processed, st.Malformed, st.Skipped, st.Recorded, st.Delivered)
		if st.Failed > 0 {
			fmt.Fprintf(w, " · \033[1;31mfailed %d\033[0m", st.Failed)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)

	if r.PrunedListings > 0 || r.PrunedDeliveries > 0 {
		fmt.Fprintf(w, "\033[1;33m  Retention\033[0m\n")
		fmt.Fprintf(w, "  %s\n", thin)
		fmt.Fprintf(w, "  Pruned listings     : %d\n", r.PrunedListings)
		fmt.Fprintf(w, "  Pruned deliveries   : %d\n", r.PrunedDeliveries)
	}

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
}
