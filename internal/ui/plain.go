package ui

import (
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/BioHazard786/classmesh/internal/protocol"
)

// AttendanceText renders an attendance sheet without colors or icons, for
// pipes and log files.
func AttendanceText(records []protocol.AttendanceView) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.Style().Format.Header = text.FormatDefault
	t.AppendHeader(table.Row{"Student", "Name", "Status", "Joined", "Left", "Duration", "Marked by"})
	for _, r := range records {
		status := "absent"
		if r.IsPresent {
			status = "present"
		}
		marked := ""
		if r.Manual {
			marked = r.MarkedBy
		}
		t.AppendRow(table.Row{
			r.StudentID,
			r.StudentName,
			status,
			formatClock(r.JoinedAt),
			formatClock(r.LeftAt),
			formatDuration(time.Duration(r.DurationSeconds) * time.Second),
			marked,
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "Students", len(records)})
	return t.Render()
}
