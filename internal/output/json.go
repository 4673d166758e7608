package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// jsonWriter buffers items and renders them on Flush: a lone item as a bare
// object, several as an array. Keeps piped output clean for both
// single-source and whole-run invocations.
type jsonWriter struct {
	w       *bufio.Writer
	compact bool
	items   []any
}

func newJSONWriter(w io.Writer, compact bool) *jsonWriter {
	return &jsonWriter{w: bufio.NewWriter(w), compact: compact}
}

func (w *jsonWriter) Write(item any) error {
	w.items = append(w.items, item)
	return nil
}

func (w *jsonWriter) Flush() error {
	var doc any = w.items
	if len(w.items) == 1 {
		doc = w.items[0]
	}
	if w.items == nil {
		doc = []any{}
	}

	var (
		out []byte
		err error
	)
	if w.compact {
		out, err = json.Marshal(doc)
	} else {
		out, err = json.MarshalIndent(doc, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}

	if _, err := w.w.Write(out); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *jsonWriter) Close() error {
	return w.Flush()
}

// jsonlWriter streams one JSON document per line as items arrive. Suited to
// long runs where buffering every article would be wasteful.
type jsonlWriter struct {
	w   *bufio.Writer
	enc *json.Encoder
}

func newJSONLWriter(w io.Writer) *jsonlWriter {
	bw := bufio.NewWriter(w)
	return &jsonlWriter{w: bw, enc: json.NewEncoder(bw)}
}

func (w *jsonlWriter) Write(item any) error {
	if err := w.enc.Encode(item); err != nil {
		return fmt.Errorf("encode json line: %w", err)
	}
	return w.w.Flush()
}

func (w *jsonlWriter) Flush() error {
	return w.w.Flush()
}

func (w *jsonlWriter) Close() error {
	return w.Flush()
}
