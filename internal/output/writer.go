// Package output renders catalog data for the command line.
package output

import (
	"fmt"
	"io"
	"strings"
)

// Format is an output encoding.
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
)

// Formats lists the accepted format names.
var Formats = []Format{FormatJSON, FormatJSONL, FormatYAML}

// ParseFormat maps a flag value to a Format. Matching is case-insensitive.
func ParseFormat(name string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unsupported output format %q (want json, jsonl or yaml)", name)
}

// Writer emits a list of items. JSON and YAML buffer until Close and emit a
// single array; JSONL writes each item as it arrives. An empty JSON or YAML
// list is written as [].
type Writer interface {
	Write(item any) error
	Close() error
}

// NewWriter returns a list Writer for format.
func NewWriter(w io.Writer, format Format) (Writer, error) {
	switch format {
	case FormatJSON:
		return newJSONWriter(w), nil
	case FormatJSONL:
		return newJSONLWriter(w), nil
	case FormatYAML:
		return newYAMLWriter(w), nil
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
}

// WriteOne encodes a single value, such as a run report or one entry.
func WriteOne(w io.Writer, format Format, v any) error {
	switch format {
	case FormatJSON:
		return encodeJSON(w, v, "  ")
	case FormatJSONL:
		return encodeJSON(w, v, "")
	case FormatYAML:
		return encodeYAML(w, v)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}
