package output

import (
	"bufio"
	"encoding/json"
	"io"
)

func encodeJSON(w io.Writer, v any, indent string) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(v)
}

type jsonWriter struct {
	w     io.Writer
	items []any
}

func newJSONWriter(w io.Writer) *jsonWriter {
	return &jsonWriter{w: w, items: []any{}}
}

func (w *jsonWriter) Write(item any) error {
	w.items = append(w.items, item)
	return nil
}

func (w *jsonWriter) Close() error {
	return encodeJSON(w.w, w.items, "  ")
}

// jsonlWriter writes one compact JSON document per line.
type jsonlWriter struct {
	w   *bufio.Writer
	enc *json.Encoder
}

func newJSONLWriter(w io.Writer) *jsonlWriter {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	return &jsonlWriter{w: bw, enc: enc}
}

func (w *jsonlWriter) Write(item any) error {
	if err := w.enc.Encode(item); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *jsonlWriter) Close() error {
	return w.w.Flush()
}
