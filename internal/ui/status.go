package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
)

// IndexStatus is the state of one index.
type IndexStatus struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Server      string   `json:"server"`
	Backend     string   `json:"backend,omitempty"`
	Enabled     bool     `json:"enabled"`
	ReadOnly    bool     `json:"read_only"`
	Datasources []string `json:"datasources"`
	Fields      int      `json:"fields"`
	Indexed     int      `json:"indexed"`
	Total       int      `json:"total"`

	// ServerStatus is "ready", "offline" or "error".
	ServerStatus string `json:"server_status"`
}

// Remaining returns the number of items waiting to be indexed.
func (s IndexStatus) Remaining() int { return max(s.Total-s.Indexed, 0) }

func (s IndexStatus) state() string {
	switch {
	case !s.Enabled:
		return "disabled"
	case s.ReadOnly:
		return "read-only"
	default:
		return "enabled"
	}
}

// StatusInfo is what `amansearch status` reports.
type StatusInfo struct {
	Indexes        []IndexStatus `json:"indexes"`
	DatabaseDriver string        `json:"database_driver"`
	DatabaseSize   int64         `json:"database_size"`

	// Daemon is "running" or "stopped". Empty when not probed.
	Daemon string `json:"daemon,omitempty"`
	// LastCron is when the daemon last ran cron indexing.
	LastCron time.Time `json:"last_cron,omitzero"`
}

// StatusRenderer prints a StatusInfo as a table or as JSON.
type StatusRenderer struct {
	out     io.Writer
	styles  Styles
	noColor bool
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: NewStyles(noColor), noColor: noColor}
}

// Render prints one table row per index followed by storage and daemon
// lines.
func (r *StatusRenderer) Render(info StatusInfo) error {
	var b strings.Builder
	b.WriteString(r.styles.Header.Render("Search status") + "\n\n")

	if len(info.Indexes) == 0 {
		b.WriteString("  No indexes configured.\n")
	} else {
		b.WriteString(r.table(info.Indexes) + "\n")
	}

	b.WriteString("\n")
	storage := info.DatabaseDriver
	if info.DatabaseSize > 0 {
		storage += ", " + humanize.IBytes(uint64(info.DatabaseSize))
	}
	fmt.Fprintf(&b, "  %s %s\n", r.styles.Label.Render("Storage:"), storage)
	if info.Daemon != "" {
		fmt.Fprintf(&b, "  %s %s\n", r.styles.Label.Render("Daemon: "), r.colorStatus(info.Daemon))
	}
	if !info.LastCron.IsZero() {
		fmt.Fprintf(&b, "  %s %s\n", r.styles.Label.Render("Cron:   "), humanize.Time(info.LastCron))
	}

	_, err := io.WriteString(r.out, b.String())
	return err
}

func (r *StatusRenderer) table(indexes []IndexStatus) string {
	rows := make([][]string, 0, len(indexes))
	for _, idx := range indexes {
		server := idx.Server
		if idx.Backend != "" {
			server += " [" + idx.Backend + "]"
		}
		rows = append(rows, []string{
			idx.ID,
			server,
			idx.state(),
			r.colorStatus(idx.ServerStatus),
			strings.Join(idx.Datasources, ", "),
			strconv.Itoa(idx.Fields),
			fmt.Sprintf("%d/%d (%s)", idx.Indexed, idx.Total, percent(idx.Indexed, idx.Total)),
			r.remaining(idx.Remaining()),
		})
	}

	cell := lipgloss.NewStyle().Padding(0, 1)
	header := cell
	if !r.noColor {
		header = cell.Bold(true)
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderRow(false).
		Headers("INDEX", "SERVER", "STATE", "STATUS", "DATASOURCES", "FIELDS", "INDEXED", "PENDING").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		})
	return t.String()
}

func (r *StatusRenderer) remaining(n int) string {
	if n == 0 {
		return "0"
	}
	return r.styles.Warning.Render(humanize.Comma(int64(n)))
}

// RenderJSON prints info as indented JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}

func (r *StatusRenderer) colorStatus(status string) string {
	switch status {
	case "ready", "running":
		return r.styles.Success.Render(status)
	case "offline", "stopped":
		return r.styles.Warning.Render(status)
	case "error":
		return r.styles.Error.Render(status)
	default:
		return status
	}
}

// percent treats an empty index as fully indexed.
func percent(part, total int) string {
	if total == 0 {
		return "100%"
	}
	return fmt.Sprintf("%.0f%%", float64(part)*100/float64(total))
}
