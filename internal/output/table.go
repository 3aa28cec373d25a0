package output

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/parklens/parklens/internal/core"
)

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

// FormatReadings renders readings as a table with a totals footer.
func (f *TableFormatter) FormatReadings(readings []core.Reading) (string, error) {
	if len(readings) == 0 {
		return "", nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Facility", "Free", "Accessible", "Status", "Notes"})

	for _, r := range readings {
		t.AppendRow(table.Row{
			r.FacilityID,
			spacesCell(r.FreeSpaces, r.TotalSpaces),
			spacesCell(r.HandicappedFree, r.HandicappedTotal),
			r.Status(),
			formatNotes(r),
		})
	}

	if len(readings) > 1 {
		free, total, degraded := summarize(readings)
		summary := fmt.Sprintf("%d degraded", degraded)
		t.AppendFooter(table.Row{
			fmt.Sprintf("%d facilities", len(readings)),
			fmt.Sprintf("%d/%d", free, total),
			"",
			summary,
			"",
		})
	}

	return t.Render(), nil
}

// FormatAreas renders the area catalogue as a table.
func (f *TableFormatter) FormatAreas(areas []core.Area) (string, error) {
	if len(areas) == 0 {
		return "", nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Area", "Description", "Facilities"})
	for _, a := range areas {
		t.AppendRow(table.Row{a.Code, a.Description, strings.Join(a.FacilityIDs, ", ")})
	}
	return t.Render(), nil
}
