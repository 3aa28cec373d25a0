package output

import (
	"fmt"
	"strings"

	"github.com/parklens/parklens/internal/core"
)

// MarkdownFormatter renders results as Markdown tables.
type MarkdownFormatter struct{}

// FormatReadings renders readings as a Markdown table.
func (f *MarkdownFormatter) FormatReadings(readings []core.Reading) (string, error) {
	if len(readings) == 0 {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("| Facility | Free | Accessible | Status | Notes |\n")
	sb.WriteString("|----------|------|------------|--------|-------|\n")
	for _, r := range readings {
		fmt.Fprintf(&sb, "| %s | %s | %s | %s | %s |\n",
			escapeCell(r.FacilityID),
			spacesCell(r.FreeSpaces, r.TotalSpaces),
			spacesCell(r.HandicappedFree, r.HandicappedTotal),
			r.Status(),
			escapeCell(formatNotes(r)))
	}

	if len(readings) > 1 {
		free, total, degraded := summarize(readings)
		fmt.Fprintf(&sb, "\n**Total free:** %d/%d across %d facilities (%d degraded)\n", free, total, len(readings), degraded)
	}
	return sb.String(), nil
}

// FormatAreas renders the area catalogue as a Markdown table.
func (f *MarkdownFormatter) FormatAreas(areas []core.Area) (string, error) {
	if len(areas) == 0 {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("| Area | Description | Facilities |\n")
	sb.WriteString("|------|-------------|------------|\n")
	for _, a := range areas {
		fmt.Fprintf(&sb, "| %s | %s | %s |\n",
			escapeCell(a.Code), escapeCell(a.Description), strings.Join(a.FacilityIDs, ", "))
	}
	return sb.String(), nil
}

func escapeCell(value string) string {
	value = strings.ReplaceAll(value, "|", "\\|")
	return strings.ReplaceAll(value, "\n", " ")
}
