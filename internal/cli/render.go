package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/term"

	"stationear/internal/domain"
	"stationear/internal/usecase"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	matchStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	alertStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	stationStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("86")).
			Padding(0, 1)
)

// renderer formats command output. Styling is applied only when the output is
// an interactive terminal.
type renderer struct {
	out    io.Writer
	styled bool
}

func newRenderer(out io.Writer, plain bool) renderer {
	return renderer{out: out, styled: !plain && isTerminal(out)}
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	return ok && term.IsTerminal(file.Fd())
}

func (r renderer) style(style lipgloss.Style, text string) string {
	if !r.styled {
		return text
	}
	return style.Render(text)
}

func (r renderer) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}

func (r renderer) header(text string) {
	r.printf("%s\n", r.style(headerStyle, text))
}

func (r renderer) field(label string, value string) {
	r.printf("%s %s\n", r.style(labelStyle, label+":"), value)
}

func (r renderer) status(id domain.SessionID, status domain.SessionStatus) {
	r.header("Session " + id.String())
	r.field("Status", string(status.Status))
	if status.TotalChunks > 0 {
		r.field("Chunks", fmt.Sprintf("%d/%d", status.DoneChunks, status.TotalChunks))
	}
	for _, alert := range status.KeywordAlerts {
		r.alert(id, alert)
	}
}

func (r renderer) alert(id domain.SessionID, alert domain.KeywordAlert) {
	line := "ALERT " + alert.Keyword
	if alert.DetectedAt != "" {
		line += " @ " + alert.DetectedAt
	}
	if alert.BroadcastID != nil {
		line += " (broadcast " + strconv.FormatInt(*alert.BroadcastID, 10) + ")"
	}
	r.printf("%s %s\n", r.style(alertStyle, line), r.style(dimStyle, "["+id.String()+"]"))
}

func (r renderer) keywords(id domain.SessionID, items []domain.Keyword) {
	r.header("Keywords " + id.String())
	if len(items) == 0 {
		r.printf("%s\n", r.style(dimStyle, "(none)"))
		return
	}
	for _, item := range items {
		ref := "-"
		if item.ID != nil {
			ref = strconv.FormatInt(*item.ID, 10)
		}
		r.printf("%s %s\n", r.style(dimStyle, fmt.Sprintf("%6s", ref)), item.Text)
	}
}

func (r renderer) digest(id domain.SessionID, digest usecase.Digest) {
	r.header("Results " + id.String())
	if digest.Summary != "" {
		r.field("Summary", digest.Summary)
	}
	r.field("Announcements", strconv.Itoa(digest.Total))
	if digest.Current != nil {
		r.printf("%s\n", r.style(stationStyle, currentInfo(digest.Current)))
	}
	for _, entry := range digest.Entries {
		r.entry(entry)
	}
}

func (r renderer) entry(entry usecase.DigestEntry) {
	r.printf("%s %s\n", r.style(dimStyle, fmt.Sprintf("#%d", entry.AnnouncementID)), entry.Text)
	if entry.Summary != "" {
		r.printf("    %s\n", r.style(dimStyle, entry.Summary))
	}
	if len(entry.Matched) > 0 {
		r.printf("    %s\n", r.style(matchStyle, "matched: "+strings.Join(entry.Matched, ", ")))
	}
}

func currentInfo(info *domain.AnnouncementInfo) string {
	lines := make([]string, 0, 4)
	if info.Station != "" {
		lines = append(lines, "Station: "+info.Station)
	}
	if info.Door != "" {
		lines = append(lines, "Door: "+info.Door)
	}
	if len(info.Transfers) > 0 {
		lines = append(lines, "Transfers: "+strings.Join(info.Transfers, ", "))
	}
	if len(info.Warnings) > 0 {
		lines = append(lines, "Warnings: "+strings.Join(info.Warnings, ", "))
	}
	return strings.Join(lines, "\n")
}
