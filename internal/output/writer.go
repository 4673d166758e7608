// Package output serialises CLI results: sources, articles, and per-source
// run summaries.
package output

import (
	"fmt"
	"io"
	"strings"
)

// Format selects the serialisation for a writer.
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
)

// ParseFormat maps a flag value onto a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatJSON:
		return FormatJSON, nil
	case FormatJSONL:
		return FormatJSONL, nil
	case FormatYAML:
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported output format: %q (use json, jsonl or yaml)", s)
	}
}

// Writer serialises results to a stream. Write may buffer; Flush renders
// everything buffered so far.
type Writer interface {
	Write(item any) error
	Flush() error
	Close() error
}

// Option configures a writer.
type Option func(*writerConfig)

type writerConfig struct {
	compact bool
}

// WithCompact drops pretty-printing for formats that have it.
func WithCompact() Option {
	return func(c *writerConfig) {
		c.compact = true
	}
}

// NewWriter builds a writer for the format.
func NewWriter(w io.Writer, format Format, opts ...Option) (Writer, error) {
	var cfg writerConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	switch format {
	case FormatJSON:
		return newJSONWriter(w, cfg.compact), nil
	case FormatJSONL:
		return newJSONLWriter(w), nil
	case FormatYAML:
		return newYAMLWriter(w), nil
	default:
		return nil, fmt.Errorf("unsupported output format: %q", format)
	}
}
