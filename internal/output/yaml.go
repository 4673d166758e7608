package output

import (
	"bufio"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// yamlWriter buffers items and renders on Flush, mirroring the JSON
// writer's lone-item rule.
type yamlWriter struct {
	w     *bufio.Writer
	items []any
}

func newYAMLWriter(w io.Writer) *yamlWriter {
	return &yamlWriter{w: bufio.NewWriter(w)}
}

func (w *yamlWriter) Write(item any) error {
	w.items = append(w.items, item)
	return nil
}

func (w *yamlWriter) Flush() error {
	var doc any = w.items
	if len(w.items) == 1 {
		doc = w.items[0]
	}
	if w.items == nil {
		doc = []any{}
	}

	enc := yaml.NewEncoder(w.w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *yamlWriter) Close() error {
	return w.Flush()
}
