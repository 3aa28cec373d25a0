package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/parklens/parklens/internal/core"
)

func spacesCell(free, total int) string {
	if total == 0 && free == 0 {
		return "-"
	}
	return fmt.Sprintf("%d/%d", free, total)
}

func fetchedCell(r core.Reading) string {
	if r.FetchedAt == nil || r.FetchedAt.IsZero() {
		return ""
	}
	return r.FetchedAt.Format(time.RFC3339)
}

func formatNotes(r core.Reading) string {
	var notes []string
	if msg := strings.TrimSpace(r.Error); msg != "" {
		notes = append(notes, msg)
	}
	if fetched := fetchedCell(r); fetched != "" {
		notes = append(notes, "fetched "+fetched)
	}
	return strings.Join(notes, "; ")
}

func summarize(readings []core.Reading) (free, total, degraded int) {
	for _, r := range readings {
		free += r.FreeSpaces
		total += r.TotalSpaces
		if r.Degraded() {
			degraded++
		}
	}
	return free, total, degraded
}
