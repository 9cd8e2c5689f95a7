package report

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pratik-mahalle/stackdrift/internal/domain/drift"
)

// JSON renders res as an indented JSON document. Values at redacted paths
// are masked; everything else is written as is.
func (r *Renderer) JSON(res *drift.Result) ([]byte, error) {
	if r.opts.Redact != nil {
		res = r.redacted(res)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(res); err != nil {
		return nil, fmt.Errorf("encode drift result: %w", err)
	}
	return buf.Bytes(), nil
}

// ParseJSON reads a document produced by JSON back into a result.
func ParseJSON(data []byte) (*drift.Result, error) {
	var res drift.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode drift result: %w", err)
	}
	if err := res.Validate(); err != nil {
		return nil, fmt.Errorf("invalid drift result: %w", err)
	}
	return &res, nil
}

func (r *Renderer) redacted(res *drift.Result) *drift.Result {
	out := *res
	out.Entities = make([]drift.EntityDrift, len(res.Entities))
	for i, e := range res.Entities {
		items := make([]drift.Item, len(e.Items))
		for j, it := range e.Items {
			if r.opts.Redact(it.FieldPath) {
				if it.BaselineValue != nil {
					it.BaselineValue = Redacted
				}
				if it.RuntimeValue != nil {
					it.RuntimeValue = Redacted
				}
			}
			items[j] = it
		}
		e.Items = items
		out.Entities[i] = e
	}
	return &out
}
