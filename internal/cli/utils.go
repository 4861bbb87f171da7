// Package cli provides result output for the bulksearch command line.
package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// SearchOutputFormat is the format for search result output.
type SearchOutputFormat string

const (
	// OutputText is human-readable text grouped by entity (default).
	OutputText SearchOutputFormat = "text"
	// OutputJSON is one JSON object per result for machine consumption.
	OutputJSON SearchOutputFormat = "json"
	// OutputCSV is a two-column CONFIG_NAME,<detail> sheet.
	OutputCSV SearchOutputFormat = "csv"
	// OutputXLSX is the CSV layout written as an Excel workbook.
	OutputXLSX SearchOutputFormat = "xlsx"
)

// ParseFormat returns the output format named by s.
func ParseFormat(s string) (SearchOutputFormat, error) {
	switch f := SearchOutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return OutputText, nil
	case OutputText, OutputJSON, OutputCSV, OutputXLSX:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json, csv or xlsx)", s)
	}
}

// OutputFile returns the file name and format for an --output argument. Names
// ending in .xlsx produce a workbook; anything else is CSV with the extension
// appended when missing.
func OutputFile(name string) (string, SearchOutputFormat) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx":
		return name, OutputXLSX
	case ".csv":
		return name, OutputCSV
	default:
		return name + ".csv", OutputCSV
	}
}

// DetailHeader is the second column title of file output.
func DetailHeader(parameter string) string {
	if parameter == "" {
		return "DETAIL"
	}
	return parameter
}

// FormatValue renders an extracted value for text and sheet output. Strings are
// printed bare, numbers without exponent where possible, structures as JSON.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
