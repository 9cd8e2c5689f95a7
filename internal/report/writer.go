package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pratik-mahalle/stackdrift/internal/domain/drift"
	"github.com/pratik-mahalle/stackdrift/internal/pkg/logger"
)

// Format selects which documents are produced
type Format string

// Output formats
const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatBoth     Format = "both"
)

// Content types of the artifacts
const (
	ContentTypeJSON     = "application/json"
	ContentTypeMarkdown = "text/markdown; charset=utf-8"
)

// ParseFormat validates a format name.
func ParseFormat(v string) (Format, error) {
	switch f := Format(v); f {
	case FormatJSON, FormatMarkdown, FormatBoth:
		return f, nil
	case "md":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("unknown report format %q (want json, markdown or both)", v)
}

// Artifact is one written document
type Artifact struct {
	Path        string `json:"path"`
	Location    string `json:"location,omitempty"`
	ContentType string `json:"content_type"`
}

// Writer stores rendered documents in an output directory and, when a sink
// is configured, uploads them as well.
type Writer struct {
	dir      string
	format   Format
	renderer *Renderer
	sink     Sink
	logger   *logger.Logger
}

// NewWriter creates an artifact writer. sink may be nil.
func NewWriter(dir string, format Format, renderer *Renderer, sink Sink, log *logger.Logger) *Writer {
	if format == "" {
		format = FormatBoth
	}
	return &Writer{
		dir:      dir,
		format:   format,
		renderer: renderer,
		sink:     sink,
		logger:   log.WithComponent("report"),
	}
}

// Write renders res in the configured formats, named after the run time.
func (w *Writer) Write(ctx context.Context, res *drift.Result) ([]Artifact, error) {
	stamp := res.Timestamp.UTC().Format("20060102-150405")
	var artifacts []Artifact

	if w.format == FormatJSON || w.format == FormatBoth {
		data, err := w.renderer.JSON(res)
		if err != nil {
			return artifacts, err
		}
		a, err := w.Put(ctx, fmt.Sprintf("drift-report-%s.json", stamp), data, ContentTypeJSON)
		if err != nil {
			return artifacts, err
		}
		artifacts = append(artifacts, a)
	}

	if w.format == FormatMarkdown || w.format == FormatBoth {
		a, err := w.Put(ctx, fmt.Sprintf("drift-report-%s.md", stamp), []byte(w.renderer.Markdown(res)), ContentTypeMarkdown)
		if err != nil {
			return artifacts, err
		}
		artifacts = append(artifacts, a)
	}

	return artifacts, nil
}

// Put writes one named document to the output directory and the sink.
func (w *Writer) Put(ctx context.Context, name string, data []byte, contentType string) (Artifact, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("create output dir: %w", err)
	}
	p := filepath.Join(w.dir, name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return Artifact{}, fmt.Errorf("write %s: %w", p, err)
	}
	a := Artifact{Path: p, ContentType: contentType}

	if w.sink != nil {
		loc, err := w.sink.Upload(ctx, name, data, contentType)
		if err != nil {
			return a, fmt.Errorf("upload %s: %w", name, err)
		}
		a.Location = loc
	}

	w.logger.WithFields(map[string]interface{}{
		"path":     a.Path,
		"location": a.Location,
		"bytes":    len(data),
	}).Info("Report written")
	return a, nil
}
