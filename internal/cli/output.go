package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/pratik-mahalle/stackdrift/internal/audit"
	"github.com/pratik-mahalle/stackdrift/internal/domain/drift"
)

// Output formats for command results
const (
	OutputTable = "table"
	OutputJSON  = "json"
	OutputYAML  = "yaml"
)

var (
	styleTitle    = lipgloss.NewStyle().Bold(true)
	styleMuted    = lipgloss.NewStyle().Faint(true)
	styleOK       = lipgloss.NewStyle().Foreground(lipgloss.Color("#2ECC71"))
	styleWarning  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F4D03F"))
	styleError    = lipgloss.NewStyle().Foreground(lipgloss.Color("#E74C3C")).Bold(true)
	styleSeverity = map[drift.Severity]lipgloss.Style{
		drift.SeverityBreaking:      lipgloss.NewStyle().Foreground(lipgloss.Color("#E74C3C")).Bold(true),
		drift.SeverityFunctional:    lipgloss.NewStyle().Foreground(lipgloss.Color("#E67E22")),
		drift.SeverityCosmetic:      lipgloss.NewStyle().Foreground(lipgloss.Color("#F4D03F")),
		drift.SeverityInformational: lipgloss.NewStyle().Foreground(lipgloss.Color("#3498DB")),
	}
)

// Printer writes command results in the selected format.
type Printer struct {
	out     io.Writer
	format  string
	noColor bool
}

func newPrinter(out io.Writer, format string, noColor bool) *Printer {
	if format == "" {
		format = OutputTable
	}
	return &Printer{out: out, format: format, noColor: noColor}
}

// Structured reports whether results go out as JSON or YAML.
func (p *Printer) Structured() bool {
	return p.format == OutputJSON || p.format == OutputYAML
}

// Print writes data as JSON or YAML.
func (p *Printer) Print(data interface{}) error {
	switch p.format {
	case OutputYAML:
		return p.printYAML(data)
	default:
		// Table output is rendered by the caller; anything else gets JSON.
		return p.printJSON(data)
	}
}

func (p *Printer) printJSON(data interface{}) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(data)
}

func (p *Printer) printYAML(data interface{}) error {
	enc := yaml.NewEncoder(p.out)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(data)
}

// Println writes one line of plain text.
func (p *Printer) Println(a ...interface{}) {
	fmt.Fprintln(p.out, a...)
}

// Printf writes formatted plain text.
func (p *Printer) Printf(format string, a ...interface{}) {
	fmt.Fprintf(p.out, format, a...)
}

func (p *Printer) style(s lipgloss.Style, text string) string {
	if p.noColor {
		return text
	}
	return s.Render(text)
}

// Title renders a section heading.
func (p *Printer) Title(text string) string {
	return p.style(styleTitle, text)
}

// Muted renders secondary text.
func (p *Printer) Muted(text string) string {
	return p.style(styleMuted, text)
}

// Table renders data as a formatted table.
type Table struct {
	headers []string
	rows    [][]string
	writer  io.Writer
}

// NewTable creates a new table with the given headers.
func (p *Printer) NewTable(headers ...string) *Table {
	return &Table{
		headers: headers,
		writer:  p.out,
	}
}

// AddRow adds a row to the table.
func (t *Table) AddRow(cols ...string) {
	t.rows = append(t.rows, cols)
}

// Render writes the table.
func (t *Table) Render() {
	w := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)

	// Header
	fmt.Fprintln(w, strings.Join(t.headers, "\t"))

	// Separator
	sep := make([]string, len(t.headers))
	for i, h := range t.headers {
		sep[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(w, strings.Join(sep, "\t"))

	// Rows
	for _, row := range t.rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}

	w.Flush()
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// formatSeverity returns a severity string with visual indicator.
func (p *Printer) formatSeverity(s drift.Severity) string {
	var label string
	switch s {
	case drift.SeverityBreaking:
		label = "[!] BREAKING"
	case drift.SeverityFunctional:
		label = "[F] FUNCTIONAL"
	case drift.SeverityCosmetic:
		label = "[C] COSMETIC"
	case drift.SeverityInformational:
		label = "[i] INFORMATIONAL"
	case "":
		return "-"
	default:
		return string(s)
	}
	return p.style(styleSeverity[s], label)
}

// formatLevel returns a structure issue level with visual indicator.
func (p *Printer) formatLevel(l audit.Level) string {
	switch l {
	case audit.LevelError:
		return p.style(styleError, "[-] ERROR")
	case audit.LevelWarning:
		return p.style(styleWarning, "[*] WARNING")
	default:
		return "[i] " + string(l)
	}
}

// formatStatus returns a status string with visual indicator.
func (p *Printer) formatStatus(status string) string {
	switch strings.ToLower(status) {
	case "done", "clean", "passed", "ok":
		return p.style(styleOK, "[+] "+status)
	case "failed", "error", "missing":
		return p.style(styleError, "[-] "+status)
	case "drifted", "dry-run", "unmanaged":
		return p.style(styleWarning, "[*] "+status)
	default:
		return status
	}
}
