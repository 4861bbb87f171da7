package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/bulksearch/internal/models"
	"github.com/xuri/excelize/v2"
)

var sample = []models.ExtractionResult{
	{EntityName: "www.example.com", Location: "/rules/behaviors/0/options/hostname", Value: "origin.example.com"},
	{EntityName: "www.example.com", Location: "/rules/children/0/behaviors/0/options/hostname", Value: "api-origin.example.com"},
	{Summary: 1, EntityName: "shop.example.com", Location: "/rules/behaviors/0/options/httpPort", Value: float64(8080)},
}

func writeAll(t *testing.T, w ResultWriter, results []models.ExtractionResult) {
	t.Helper()
	for _, r := range results {
		if err := w.Write(r); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestTextWriter(t *testing.T) {
	var buf bytes.Buffer
	writeAll(t, NewTextWriter(&buf, "hostname", false), sample)

	want := "Property name: www.example.com\n" +
		"  hostname: origin.example.com\n" +
		"  hostname: api-origin.example.com\n" +
		"\n" +
		"Property name: shop.example.com\n" +
		"  hostname: 8080\n" +
		"\n"
	if buf.String() != want {
		t.Errorf("got:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestTextWriter_verboseWithoutParameter(t *testing.T) {
	var buf bytes.Buffer
	writeAll(t, NewTextWriter(&buf, "", true), sample[:1])

	out := buf.String()
	if !strings.Contains(out, "  location: /rules/behaviors/0/options/hostname\n") {
		t.Errorf("missing location line:\n%s", out)
	}
	if !strings.Contains(out, "  value: origin.example.com\n") {
		t.Errorf("missing value line:\n%s", out)
	}
}

func TestTextWriter_headerPerSummary(t *testing.T) {
	var buf bytes.Buffer
	writeAll(t, NewTextWriter(&buf, "hostname", false), []models.ExtractionResult{
		{Summary: 0, EntityName: "www.example.com", Value: "origin.example.com"},
		{Summary: 1, EntityName: "www.example.com", Value: "origin.example.com"},
	})

	want := "Property name: www.example.com\n" +
		"  hostname: origin.example.com\n" +
		"\n" +
		"Property name: www.example.com\n" +
		"  hostname: origin.example.com\n" +
		"\n"
	if buf.String() != want {
		t.Errorf("got:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestTextWriter_empty(t *testing.T) {
	var buf bytes.Buffer
	writeAll(t, NewTextWriter(&buf, "", false), nil)
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func TestJSONWriter(t *testing.T) {
	var buf bytes.Buffer
	writeAll(t, NewJSONWriter(&buf), sample)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != len(sample) {
		t.Fatalf("got %d lines, want %d", len(lines), len(sample))
	}
	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if first["entity_name"] != "www.example.com" || first["value"] != "origin.example.com" || first["summary"] != float64(0) {
		t.Errorf("first line = %v", first)
	}
}

func TestCSVWriter(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewCSVWriter(&buf, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	writeAll(t, w, []models.ExtractionResult{
		{EntityName: "www.example.com", Value: "a,b"},
		{EntityName: "www.example.com", Value: map[string]any{"k": "v"}},
	})
	want := "CONFIG_NAME,DETAIL\nwww.example.com,\"a,b\"\nwww.example.com,\"{\"\"k\"\":\"\"v\"\"}\"\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestOpenFile_csvAppendsExtension(t *testing.T) {
	base := filepath.Join(t.TempDir(), "origins")
	w, path, err := OpenFile(base, "hostname")
	if err != nil {
		t.Fatal(err)
	}
	writeAll(t, w, sample[:1])
	if path != base+".csv" {
		t.Errorf("path = %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "CONFIG_NAME,hostname\nwww.example.com,origin.example.com\n" {
		t.Errorf("file = %q", data)
	}
}

func TestOpenFile_xlsx(t *testing.T) {
	path := filepath.Join(t.TempDir(), "origins.xlsx")
	w, got, err := OpenFile(path, "")
	if err != nil {
		t.Fatal(err)
	}
	writeAll(t, w, sample)
	if got != path {
		t.Errorf("path = %q", got)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(resultsSheet)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 4 {
		t.Fatalf("got %d rows, want 4", len(rows))
	}
	if rows[0][0] != "CONFIG_NAME" || rows[0][1] != "DETAIL" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[3][0] != "shop.example.com" || rows[3][1] != "8080" {
		t.Errorf("last row = %v", rows[3])
	}
}

func TestMultiWriter(t *testing.T) {
	var a, b bytes.Buffer
	m := MultiWriter{NewJSONWriter(&a), NewTextWriter(&b, "", false)}
	writeAll(t, m, sample[:1])
	if a.Len() == 0 || b.Len() == 0 {
		t.Error("every writer should receive the result")
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    SearchOutputFormat
		wantErr bool
	}{
		{"", OutputText, false},
		{"TEXT", OutputText, false},
		{"json", OutputJSON, false},
		{"csv", OutputCSV, false},
		{"xlsx", OutputXLSX, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, "null"},
		{"origin.example.com", "origin.example.com"},
		{true, "true"},
		{float64(80), "80"},
		{1.5, "1.5"},
		{[]any{"a", float64(1)}, `["a",1]`},
	}
	for _, tt := range tests {
		if got := FormatValue(tt.in); got != tt.want {
			t.Errorf("FormatValue(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewConsoleWriter_rejectsXLSX(t *testing.T) {
	if _, err := NewConsoleWriter(&bytes.Buffer{}, OutputXLSX, "", false); err == nil {
		t.Error("xlsx should need an output file")
	}
}
