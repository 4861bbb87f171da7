package cli

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hyperjump/bulksearch/internal/models"
	"github.com/xuri/excelize/v2"
)

// ResultWriter is a sink that must be closed to flush its output.
type ResultWriter interface {
	Write(r models.ExtractionResult) error
	Close() error
}

// TextWriter prints results grouped under a "Property name:" header, one
// header per match summary.
type TextWriter struct {
	w         io.Writer
	parameter string
	verbose   bool
	current   int
	started   bool
}

// NewTextWriter labels each value with parameter, or "value" when empty.
// Verbose output also prints the match location.
func NewTextWriter(w io.Writer, parameter string, verbose bool) *TextWriter {
	return &TextWriter{w: w, parameter: parameter, verbose: verbose}
}

func (t *TextWriter) Write(r models.ExtractionResult) error {
	if !t.started || r.Summary != t.current {
		if t.started {
			if _, err := fmt.Fprintln(t.w); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(t.w, "Property name: %s\n", r.EntityName); err != nil {
			return err
		}
		t.current = r.Summary
		t.started = true
	}
	if t.verbose {
		if _, err := fmt.Fprintf(t.w, "  location: %s\n", r.Location); err != nil {
			return err
		}
	}
	label := "value"
	if t.parameter != "" {
		label = t.parameter
	}
	_, err := fmt.Fprintf(t.w, "  %s: %s\n", label, FormatValue(r.Value))
	return err
}

func (t *TextWriter) Close() error {
	if !t.started {
		return nil
	}
	_, err := fmt.Fprintln(t.w)
	return err
}

// JSONWriter emits one JSON object per line.
type JSONWriter struct {
	enc *json.Encoder
}

// NewJSONWriter writes JSON lines to w.
func NewJSONWriter(w io.Writer) *JSONWriter {
	return &JSONWriter{enc: json.NewEncoder(w)}
}

func (j *JSONWriter) Write(r models.ExtractionResult) error {
	return j.enc.Encode(r)
}

func (j *JSONWriter) Close() error { return nil }

// CSVWriter writes CONFIG_NAME,<detail> rows.
type CSVWriter struct {
	w      *csv.Writer
	closer io.Closer
}

// NewCSVWriter writes the header row immediately. closer, when not nil, is
// closed after the final flush.
func NewCSVWriter(w io.Writer, parameter string, closer io.Closer) (*CSVWriter, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"CONFIG_NAME", DetailHeader(parameter)}); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	return &CSVWriter{w: cw, closer: closer}, nil
}

func (c *CSVWriter) Write(r models.ExtractionResult) error {
	return c.w.Write([]string{r.EntityName, FormatValue(r.Value)})
}

func (c *CSVWriter) Close() error {
	c.w.Flush()
	err := c.w.Error()
	if c.closer != nil {
		if cerr := c.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// XLSXWriter collects rows into a workbook saved on Close.
type XLSXWriter struct {
	f     *excelize.File
	path  string
	sheet string
	row   int
}

const resultsSheet = "Results"

// NewXLSXWriter creates a workbook that will be saved to path.
func NewXLSXWriter(path, parameter string) (*XLSXWriter, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", resultsSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("create workbook: %w", err)
	}
	x := &XLSXWriter{f: f, path: path, sheet: resultsSheet, row: 1}
	if err := x.appendRow("CONFIG_NAME", DetailHeader(parameter)); err != nil {
		f.Close()
		return nil, err
	}
	return x, nil
}

func (x *XLSXWriter) appendRow(name, detail string) error {
	cell, err := excelize.CoordinatesToCellName(1, x.row)
	if err != nil {
		return err
	}
	if err := x.f.SetSheetRow(x.sheet, cell, &[]any{name, detail}); err != nil {
		return fmt.Errorf("write row %d: %w", x.row, err)
	}
	x.row++
	return nil
}

func (x *XLSXWriter) Write(r models.ExtractionResult) error {
	return x.appendRow(r.EntityName, FormatValue(r.Value))
}

func (x *XLSXWriter) Close() error {
	err := x.f.SaveAs(x.path)
	if cerr := x.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// MultiWriter sends every result to each writer in turn.
type MultiWriter []ResultWriter

func (m MultiWriter) Write(r models.ExtractionResult) error {
	for _, w := range m {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiWriter) Close() error {
	var errs []error
	for _, w := range m {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenFile creates the file output for an --output argument.
func OpenFile(name, parameter string) (ResultWriter, string, error) {
	path, format := OutputFile(name)
	if format == OutputXLSX {
		w, err := NewXLSXWriter(path, parameter)
		return w, path, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, path, fmt.Errorf("create output file: %w", err)
	}
	w, err := NewCSVWriter(f, parameter, f)
	if err != nil {
		f.Close()
		return nil, path, err
	}
	return w, path, nil
}

// NewConsoleWriter returns the stdout writer for format.
func NewConsoleWriter(w io.Writer, format SearchOutputFormat, parameter string, verbose bool) (ResultWriter, error) {
	switch format {
	case OutputText:
		return NewTextWriter(w, parameter, verbose), nil
	case OutputJSON:
		return NewJSONWriter(w), nil
	case OutputCSV:
		return NewCSVWriter(w, parameter, nil)
	default:
		return nil, fmt.Errorf("format %s cannot be written to the console", format)
	}
}
