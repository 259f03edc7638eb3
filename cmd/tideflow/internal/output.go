package internal

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// OutputFormat selects how command results are rendered.
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

// Field is one labelled value of a detail view.
type Field struct {
	Label string
	Value string
}

// Printer renders command results as aligned text or as JSON documents.
// In JSON mode every call writes exactly one document.
type Printer struct {
	w      io.Writer
	format OutputFormat
}

// NewPrinter returns a Printer writing to w. Unknown formats print text.
func NewPrinter(format OutputFormat, w io.Writer) *Printer {
	if format != FormatJSON {
		format = FormatText
	}
	return &Printer{w: w, format: format}
}

// JSON reports whether the printer emits JSON.
func (p *Printer) JSON() bool {
	return p.format == FormatJSON
}

// Success reports a completed action.
func (p *Printer) Success(message string) error {
	if p.JSON() {
		return p.Value(map[string]string{"status": "ok", "message": message})
	}
	_, err := fmt.Fprintf(p.w, "✓ %s\n", message)
	return err
}

// Value writes v as indented JSON regardless of the format.
func (p *Printer) Value(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Table writes rows under upper-cased headers. In JSON mode each row
// becomes an object keyed by header; missing cells are empty strings.
func (p *Printer) Table(headers []string, rows [][]string) error {
	if p.JSON() {
		objs := make([]map[string]string, 0, len(rows))
		for _, row := range rows {
			obj := make(map[string]string, len(headers))
			for i, h := range headers {
				if i < len(row) {
					obj[h] = row[i]
				} else {
					obj[h] = ""
				}
			}
			objs = append(objs, obj)
		}
		return p.Value(objs)
	}

	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	upper := make([]string, len(headers))
	rule := make([]string, len(headers))
	for i, h := range headers {
		upper[i] = strings.ToUpper(h)
		rule[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(tw, strings.Join(upper, "\t"))
	fmt.Fprintln(tw, strings.Join(rule, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// Details writes "Label:  value" lines aligned after the colon, or one
// JSON object keyed by label.
func (p *Printer) Details(fields []Field) error {
	if p.JSON() {
		obj := make(map[string]string, len(fields))
		for _, f := range fields {
			obj[f.Label] = f.Value
		}
		return p.Value(obj)
	}
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	for _, f := range fields {
		fmt.Fprintf(tw, "%s:\t%s\n", f.Label, f.Value)
	}
	return tw.Flush()
}

// Line writes a plain text line. It is silent in JSON mode.
func (p *Printer) Line(a ...any) {
	if p.JSON() {
		return
	}
	fmt.Fprintln(p.w, a...)
}
