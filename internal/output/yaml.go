package output

import (
	"io"

	"gopkg.in/yaml.v3"
)

func encodeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

type yamlWriter struct {
	w     io.Writer
	items []any
}

func newYAMLWriter(w io.Writer) *yamlWriter {
	return &yamlWriter{w: w, items: []any{}}
}

func (w *yamlWriter) Write(item any) error {
	w.items = append(w.items, item)
	return nil
}

func (w *yamlWriter) Close() error {
	return encodeYAML(w.w, w.items)
}
