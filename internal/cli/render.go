package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"camera2url/internal/api"
	"camera2url/internal/capture"
	"camera2url/internal/control"
	"camera2url/internal/history"
	"camera2url/internal/store"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

const (
	colorGreen  = "#50FA7B"
	colorRed    = "#FF5555"
	colorCyan   = "#8BE9FD"
	colorPurple = "#BD93F9"
	colorGray   = "#6272A4"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(colorGreen))
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(colorRed)).Bold(true)
	headerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(colorCyan)).Bold(true)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray)).Width(16)
	borderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(colorPurple))
)

// Output formats accepted by --output.
const (
	OutputTable = "table"
	OutputJSON  = "json"
	OutputYAML  = "yaml"
)

// historyEntry is one persisted outcome as printed by the history command.
type historyEntry struct {
	ID             int64  `json:"id" yaml:"id"`
	TargetID       string `json:"target_id,omitempty" yaml:"target_id,omitempty"`
	history.Record `yaml:",inline"`
}

func historyEntries(rows []store.UploadRow) []historyEntry {
	out := make([]historyEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, historyEntry{ID: r.ID, TargetID: r.TargetID, Record: r.Record})
	}
	return out
}

func encode(w io.Writer, format string, v any) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case OutputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

// renderHistory prints rows as a table, JSON or YAML.
func renderHistory(w io.Writer, rows []store.UploadRow, format string, now time.Time) error {
	if format != OutputTable {
		return encode(w, format, historyEntries(rows))
	}
	if len(rows) == 0 {
		fmt.Fprintln(w, "No uploads recorded.")
		return nil
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers("#", "WHEN", "ORIGIN", "STATUS", "DETAIL").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})

	success := 0
	for _, r := range rows {
		status := successStyle.Render(r.DisplayStatus())
		if r.Success {
			success++
		} else {
			status = failureStyle.Render(r.DisplayStatus())
		}
		t.Row(
			strconv.Itoa(r.CaptureNumber),
			humanize.RelTime(r.Timestamp, now, "ago", "from now"),
			r.Origin.Label(),
			status,
			detail(r.Record),
		)
	}

	fmt.Fprintln(w, t.Render())
	fmt.Fprintf(w, "%s uploads: %s succeeded, %s failed\n",
		humanize.Comma(int64(len(rows))),
		successStyle.Render(humanize.Comma(int64(success))),
		failureStyle.Render(humanize.Comma(int64(len(rows)-success))))
	return nil
}

// detail is the error message of a failure or the request line of a success.
func detail(r history.Record) string {
	if r.ErrorMessage != nil {
		return *r.ErrorMessage
	}
	line, _, _ := strings.Cut(r.RequestSummary, "\n")
	return line
}

// renderTargets prints saved targets, marking the current one.
func renderTargets(w io.Writer, targets []api.TargetConfig) {
	if len(targets) == 0 {
		fmt.Fprintln(w, "No targets saved. Add one with 'camera2url target set <url>'.")
		return
	}
	for i, t := range targets {
		marker := "  "
		if i == 0 {
			marker = successStyle.Render("* ")
		}
		fmt.Fprintf(w, "%s%s  %s\n", marker, t.ID, t.Summary())
	}
}

// renderOutcome prints the result of a single upload: the request summary
// and either the response summary or the error report.
func renderOutcome(w io.Writer, exchange *api.UploadExchange, report *api.UploadErrorReport) {
	if exchange != nil {
		fmt.Fprintln(w, successStyle.Render(fmt.Sprintf("✓ Uploaded (HTTP %d)", exchange.StatusCode)))
		fmt.Fprintln(w, headerStyle.Render("Request"))
		fmt.Fprintln(w, exchange.RequestSummary)
		fmt.Fprintln(w, headerStyle.Render("Response"))
		fmt.Fprintln(w, exchange.ResponseSummary)
		return
	}
	if report == nil {
		return
	}
	fmt.Fprintln(w, failureStyle.Render("✗ "+report.Message))
	fmt.Fprintln(w, headerStyle.Render("Request"))
	fmt.Fprintln(w, report.RequestSummary)
	if report.ResponseSummary != nil {
		fmt.Fprintln(w, headerStyle.Render("Response"))
		fmt.Fprintln(w, *report.ResponseSummary)
	}
}

func field(w io.Writer, label, value string) {
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render(label), value)
}

// renderStatus prints the daemon status returned by the control API.
func renderStatus(w io.Writer, st control.StatusResponse, now time.Time) {
	h := st.Host
	fmt.Fprintln(w, headerStyle.Render("Device"))
	field(w, "Device ID", st.DeviceID)
	field(w, "Host", fmt.Sprintf("%s (%s, %s)", h.Hostname, h.Platform, h.Arch))
	if h.IPAddress != "" {
		field(w, "Address", h.IPAddress)
	}
	field(w, "Uptime", humanize.RelTime(now.Add(-h.Uptime), now, "", ""))
	field(w, "Memory", fmt.Sprintf("%s / %s", humanize.IBytes(h.UsedMemory), humanize.IBytes(h.TotalMemory)))

	c := st.Capture
	fmt.Fprintln(w, headerStyle.Render("Capture"))
	if c.Target != nil {
		field(w, "Target", c.Target.Summary())
	} else {
		field(w, "Target", failureStyle.Render("not configured"))
	}
	switch {
	case c.CameraReady && c.CurrentDevice != nil:
		field(w, "Camera", successStyle.Render("ready")+" ("+c.CurrentDevice.Name+")")
	case c.CameraReady:
		field(w, "Camera", successStyle.Render("ready"))
	case c.CameraError != "":
		field(w, "Camera", failureStyle.Render(c.CameraError))
	default:
		field(w, "Camera", "not prepared")
	}
	field(w, "Manual", manualLine(c.Manual))

	if c.TimerActive {
		timer := successStyle.Render("running") + " " + c.TimerPolicy.String()
		if c.NextCaptureAt != nil {
			timer += ", next " + humanize.RelTime(*c.NextCaptureAt, now, "ago", "from now")
		}
		field(w, "Timer", timer)
	} else {
		field(w, "Timer", "stopped ("+c.TimerPolicy.String()+")")
	}
	field(w, "Captures", fmt.Sprintf("%s total, %s by timer",
		humanize.Comma(int64(c.CaptureCount)), humanize.Comma(int64(c.TimerCaptureCount))))
	field(w, "History", fmt.Sprintf("%d records, %s ok, %s failed", c.HistorySize,
		successStyle.Render(strconv.Itoa(c.SuccessCount)), failureStyle.Render(strconv.Itoa(c.FailureCount))))
}

func manualLine(m capture.ManualStatus) string {
	switch m.State {
	case capture.StateSucceeded:
		if m.Exchange != nil {
			return successStyle.Render(fmt.Sprintf("succeeded (HTTP %d)", m.Exchange.StatusCode))
		}
		return successStyle.Render("succeeded")
	case capture.StateFailed:
		if m.Report != nil {
			return failureStyle.Render("failed: " + m.Report.Message)
		}
		return failureStyle.Render("failed")
	default:
		return string(m.State)
	}
}
