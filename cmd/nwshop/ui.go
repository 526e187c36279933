package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// UI writes human output, or nothing but JSON in --json mode.
type UI struct {
	out      io.Writer
	jsonMode bool
	noColor  bool
}

// NewUI creates a UI writing to stdout.
func NewUI(jsonMode bool) *UI {
	return &UI{out: os.Stdout, jsonMode: jsonMode, noColor: color.NoColor || !IsTerminal()}
}

func (ui *UI) line(c color.Attribute, symbol, format string, args ...interface{}) {
	if ui.jsonMode {
		return
	}
	msg := fmt.Sprintf("%s %s\n", symbol, fmt.Sprintf(format, args...))
	if ui.noColor {
		fmt.Fprint(ui.out, msg)
		return
	}
	color.New(c).Fprint(ui.out, msg)
}

// Success prints a success message.
func (ui *UI) Success(format string, args ...interface{}) {
	ui.line(color.FgGreen, "✓", format, args...)
}

// Warning prints a warning message.
func (ui *UI) Warning(format string, args ...interface{}) {
	ui.line(color.FgYellow, "⚠", format, args...)
}

// Info prints an info message.
func (ui *UI) Info(format string, args ...interface{}) {
	ui.line(color.FgCyan, "ℹ", format, args...)
}

// Step prints a step message.
func (ui *UI) Step(format string, args ...interface{}) {
	ui.line(color.FgBlue, "→", format, args...)
}

// Section prints a section header.
func (ui *UI) Section(title string) {
	if ui.jsonMode {
		return
	}
	fmt.Fprintln(ui.out)
	if ui.noColor {
		fmt.Fprintf(ui.out, "━━━ %s ━━━\n\n", strings.ToUpper(title))
		return
	}
	color.New(color.FgMagenta, color.Bold).Fprintf(ui.out, "━━━ %s ━━━\n\n", strings.ToUpper(title))
}

// KeyValue prints an indented key/value pair.
func (ui *UI) KeyValue(key string, value interface{}) {
	if ui.jsonMode {
		return
	}
	if ui.noColor {
		fmt.Fprintf(ui.out, "  %s: %v\n", key, value)
		return
	}
	color.New(color.FgYellow).Fprintf(ui.out, "  %s: ", key)
	fmt.Fprintf(ui.out, "%v\n", value)
}

// Table prints rows under headers with padded columns.
func (ui *UI) Table(headers []string, rows [][]string) {
	if ui.jsonMode || len(headers) == 0 {
		return
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len([]rune(h))
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len([]rune(cell)) > widths[i] {
				widths[i] = len([]rune(cell))
			}
		}
	}

	format := func(cells []string) string {
		parts := make([]string, len(widths))
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			parts[i] = cell + strings.Repeat(" ", widths[i]-len([]rune(cell)))
		}
		return "  " + strings.Join(parts, "  ")
	}

	header := format(headers)
	if ui.noColor {
		fmt.Fprintln(ui.out, header)
	} else {
		color.New(color.FgCyan, color.Bold).Fprintln(ui.out, header)
	}
	for _, row := range rows {
		fmt.Fprintln(ui.out, format(row))
	}
}

// JSON encodes v to stdout when in --json mode and reports whether it did.
func (ui *UI) JSON(v interface{}) (bool, error) {
	if !ui.jsonMode {
		return false, nil
	}
	enc := json.NewEncoder(ui.out)
	enc.SetIndent("", "  ")
	return true, enc.Encode(v)
}

// Spinner starts an indeterminate spinner on stderr. Stop it with the
// returned function.
func (ui *UI) Spinner(message string) func() {
	if ui.jsonMode || !IsTerminal() {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	s.Writer = os.Stderr
	s.Start()
	return s.Stop
}

// Bars renders multi-bar progress for long batch jobs.
type Bars struct {
	progress *mpb.Progress
}

// Bars returns nil in --json mode or when stdout is not a terminal.
func (ui *UI) Bars() *Bars {
	if ui.jsonMode || !IsTerminal() {
		return nil
	}
	return &Bars{progress: mpb.New(mpb.WithWidth(64), mpb.WithOutput(os.Stderr))}
}

// Add creates a counter bar.
func (b *Bars) Add(name string, total int64) *mpb.Bar {
	if b == nil {
		return nil
	}
	return b.progress.AddBar(total,
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DSyncSpaceR}),
			decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WC{W: 5}),
			decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO, decor.WC{W: 12}), " done"),
		),
	)
}

// Wait flushes the bars.
func (b *Bars) Wait() {
	if b != nil {
		b.progress.Wait()
	}
}

// ItemProgress is a single-line progress bar for per-item loops.
type ItemProgress struct {
	bar *progressbar.ProgressBar
}

// ItemProgress returns nil in --json mode or when stdout is not a terminal.
func (ui *UI) ItemProgress(description string) *ItemProgress {
	if ui.jsonMode || !IsTerminal() {
		return nil
	}
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("items"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionOnCompletion(func() { fmt.Fprint(os.Stderr, "\n") }),
	)
	return &ItemProgress{bar: bar}
}

// Update sets progress to done of total.
func (p *ItemProgress) Update(done, total int) {
	if p == nil {
		return
	}
	p.bar.ChangeMax(total)
	_ = p.bar.Set(done)
}

// Finish completes the bar.
func (p *ItemProgress) Finish() {
	if p != nil {
		_ = p.bar.Finish()
	}
}

// FormatDuration formats a duration in a human-readable way.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

// IsTerminal checks if stdout is a terminal.
func IsTerminal() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}
