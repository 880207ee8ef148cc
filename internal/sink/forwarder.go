/*
Package sink forwards validated domains to the downstream indexing step.
*/
package sink

/*
domaingate — discovery gating and domain vetting in Go
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/x-stp/domaingate/internal/validation"
)

// Forwarder receives the validated domains of one cycle.
type Forwarder interface {
	Forward(ctx context.Context, results []validation.ValidationResult) error
}

// JSONLForwarder appends one JSON object per result to a file.
type JSONLForwarder struct {
	buf *AsyncBuffer
}

// NewJSONLForwarder opens path. Paths ending in ".gz" are gzip-compressed.
func NewJSONLForwarder(ctx context.Context, path string) (*JSONLForwarder, error) {
	opts := DefaultAsyncBufferOptions()
	opts.Compressed = strings.HasSuffix(path, ".gz")
	buf, err := NewAsyncBuffer(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	return &JSONLForwarder{buf: buf}, nil
}

// Forward writes results and flushes them.
func (f *JSONLForwarder) Forward(ctx context.Context, results []validation.ValidationResult) error {
	for _, r := range results {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode %s: %w", r.Domain, err)
		}
		line = append(line, '\n')
		if _, err := f.buf.Write(line); err != nil {
			return err
		}
	}
	return f.buf.Flush()
}

// Close flushes and closes the file.
func (f *JSONLForwarder) Close() error {
	err := f.buf.Close()
	m := f.buf.GetMetrics()
	log.Printf("Closed %s: %d records, %d bytes, %d flushes, %d errors",
		f.buf.identifier, m.WriteCount.Load(), m.BytesWritten.Load(), m.FlushCount.Load(), m.ErrorCount.Load())
	return err
}

// LogForwarder logs every admitted domain.
type LogForwarder struct{}

// Forward implements Forwarder.
func (LogForwarder) Forward(_ context.Context, results []validation.ValidationResult) error {
	for _, r := range results {
		log.Printf("Admitted %s (age %dd, score %d)", r.Domain, r.WhoisAgeDays, r.ReputationScore)
	}
	return nil
}

// Multi forwards to every forwarder in order and joins their errors.
type Multi []Forwarder

// Forward implements Forwarder.
func (m Multi) Forward(ctx context.Context, results []validation.ValidationResult) error {
	var errs []error
	for _, f := range m {
		if err := f.Forward(ctx, results); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
