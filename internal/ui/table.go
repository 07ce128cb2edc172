package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/BioHazard786/classmesh/internal/protocol"
	"github.com/BioHazard786/classmesh/internal/sessions"
)

func styledTable(headers []string, rows [][]string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})
}

// ParticipantsView renders a live roster.
func ParticipantsView(participants []protocol.ParticipantInfo) string {
	if len(participants) == 0 {
		return MutedStyle.Render("Nobody is in the class")
	}
	rows := make([][]string, 0, len(participants))
	for _, p := range participants {
		rows = append(rows, []string{RoleIcon(p.UserType), p.UserName, p.UserID, p.SocketID})
	}
	return styledTable([]string{"", "Name", "User ID", "Socket"}, rows).Render()
}

// AttendanceView renders an attendance sheet.
func AttendanceView(records []protocol.AttendanceView) string {
	if len(records) == 0 {
		return MutedStyle.Render("No attendance recorded")
	}
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		status := IconAbsent + " absent"
		if r.IsPresent {
			status = IconPresent + " present"
		}
		marked := ""
		if r.Manual {
			marked = r.MarkedBy
		}
		rows = append(rows, []string{
			r.StudentID,
			r.StudentName,
			status,
			formatClock(r.JoinedAt),
			formatClock(r.LeftAt),
			formatDuration(time.Duration(r.DurationSeconds) * time.Second),
			marked,
		})
	}
	headers := []string{"Student", "Name", "Status", "Joined", "Left", "Duration", "Marked by"}
	return styledTable(headers, rows).Render()
}

// BatchResultView renders per-student outcomes of a batch mark.
func BatchResultView(results []protocol.BatchMarkResult) string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		outcome := SuccessStyle.Render("ok")
		if !r.OK {
			outcome = ErrorStyle.Render(r.Error)
		}
		rows = append(rows, []string{r.StudentID, outcome})
	}
	return styledTable([]string{"Student", "Result"}, rows).Render()
}

// SessionView renders a session summary box.
func SessionView(s sessions.Session) string {
	content := fmt.Sprintf("%s %s\n\n%s %s\n%s %s\n%s %s",
		IconClass, BoldStyle.Foreground(Primary).Render(s.Title),
		MutedStyle.Render("Session ID:"), BoldStyle.Render(s.ID),
		MutedStyle.Render("Status:    "), statusText(s.Status),
		MutedStyle.Render("Teacher:   "), s.TeacherID,
	)
	if s.Subject != "" {
		content += fmt.Sprintf("\n%s %s", MutedStyle.Render("Subject:   "), s.Subject)
	}
	if s.StartTime != nil {
		content += fmt.Sprintf("\n%s %s", MutedStyle.Render("Starts:    "), s.StartTime.Local().Format(time.RFC1123))
	}
	if s.DurationMinutes > 0 {
		content += fmt.Sprintf("\n%s %d min", MutedStyle.Render("Duration:  "), s.DurationMinutes)
	}
	return BoxStyle.Render(content)
}

func statusText(s sessions.Status) string {
	switch s {
	case sessions.StatusLive:
		return SuccessStyle.Render(string(s))
	case sessions.StatusCancelled:
		return ErrorStyle.Render(string(s))
	case sessions.StatusEnded:
		return MutedStyle.Render(string(s))
	}
	return WarningStyle.Render(string(s))
}

func formatClock(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("15:04:05")
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}
