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
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultBufferSize is the default buffer size for disk I/O
	DefaultBufferSize = 64 * 1024 // 64KB

	// FlushInterval is how often to flush buffers automatically
	FlushInterval = 2 * time.Second
)

var (
	// ErrBufferClosed is returned when attempting to write to a closed buffer
	ErrBufferClosed = errors.New("write buffer closed")
)

// BufferMetrics holds metrics for a buffer
type BufferMetrics struct {
	BytesWritten  atomic.Int64
	WriteCount    atomic.Int64
	FlushCount    atomic.Int64
	ErrorCount    atomic.Int64
	LastFlushTime atomic.Int64 // Unix timestamp in nanoseconds
	LastWriteTime atomic.Int64 // Unix timestamp in nanoseconds
}

// AsyncBuffer is a buffered file writer with a background flusher. Writes go
// to memory; the flusher (or Flush/Close) pushes them to disk. Output is
// appended, so a file can collect results across runs. With compression each
// run appends one gzip member, which gzip readers concatenate.
type AsyncBuffer struct {
	file          *os.File
	gzWriter      *gzip.Writer
	bufWriter     *bufio.Writer
	flushInterval time.Duration
	identifier    string

	mu     sync.Mutex
	closed bool

	ctx         context.Context
	cancel      context.CancelFunc
	flusherDone chan struct{}

	metrics BufferMetrics
}

// AsyncBufferOptions configures an AsyncBuffer
type AsyncBufferOptions struct {
	BufferSize    int
	FlushInterval time.Duration
	Compressed    bool
	Identifier    string
}

// DefaultAsyncBufferOptions returns the default options for AsyncBuffer
func DefaultAsyncBufferOptions() *AsyncBufferOptions {
	return &AsyncBufferOptions{
		BufferSize:    DefaultBufferSize,
		FlushInterval: FlushInterval,
	}
}

// NewAsyncBuffer opens path for appending and starts the background flusher.
func NewAsyncBuffer(ctx context.Context, path string, options *AsyncBufferOptions) (*AsyncBuffer, error) {
	if options == nil {
		options = DefaultAsyncBufferOptions()
	}
	if options.BufferSize <= 0 {
		options.BufferSize = DefaultBufferSize
	}
	if options.FlushInterval <= 0 {
		options.FlushInterval = FlushInterval
	}
	if options.Identifier == "" {
		options.Identifier = filepath.Base(path)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}

	bufCtx, bufCancel := context.WithCancel(ctx)
	ab := &AsyncBuffer{
		file:          file,
		flushInterval: options.FlushInterval,
		identifier:    options.Identifier,
		ctx:           bufCtx,
		cancel:        bufCancel,
		flusherDone:   make(chan struct{}),
	}

	if options.Compressed {
		gzw, err := gzip.NewWriterLevel(file, gzip.BestSpeed)
		if err != nil {
			file.Close()
			bufCancel()
			return nil, fmt.Errorf("failed to create gzip writer: %w", err)
		}
		ab.gzWriter = gzw
		ab.bufWriter = bufio.NewWriterSize(gzw, options.BufferSize)
	} else {
		ab.bufWriter = bufio.NewWriterSize(file, options.BufferSize)
	}

	go ab.runFlusher()
	return ab, nil
}

func (ab *AsyncBuffer) runFlusher() {
	defer close(ab.flusherDone)
	ticker := time.NewTicker(ab.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := ab.Flush(); err != nil && !errors.Is(err, ErrBufferClosed) {
				log.Printf("Background flush of %s failed: %v", ab.identifier, err)
			}
		case <-ab.ctx.Done():
			return
		}
	}
}

// Write buffers data. It implements io.Writer.
func (ab *AsyncBuffer) Write(data []byte) (int, error) {
	ab.mu.Lock()
	defer ab.mu.Unlock()

	if ab.closed {
		return 0, ErrBufferClosed
	}
	n, err := ab.bufWriter.Write(data)
	if err != nil {
		ab.metrics.ErrorCount.Add(1)
		return n, fmt.Errorf("failed to write to buffer: %w", err)
	}
	ab.metrics.BytesWritten.Add(int64(n))
	ab.metrics.WriteCount.Add(1)
	ab.metrics.LastWriteTime.Store(time.Now().UnixNano())
	return n, nil
}

// Flush pushes buffered data to the file and syncs it.
func (ab *AsyncBuffer) Flush() error {
	ab.mu.Lock()
	defer ab.mu.Unlock()

	if ab.closed {
		return ErrBufferClosed
	}
	return ab.flushLocked()
}

func (ab *AsyncBuffer) flushLocked() error {
	if ab.bufWriter.Buffered() == 0 {
		return nil
	}
	if err := ab.bufWriter.Flush(); err != nil {
		ab.metrics.ErrorCount.Add(1)
		return fmt.Errorf("failed to flush buffer: %w", err)
	}
	if ab.gzWriter != nil {
		if err := ab.gzWriter.Flush(); err != nil {
			ab.metrics.ErrorCount.Add(1)
			return fmt.Errorf("failed to flush gzip writer: %w", err)
		}
	}
	if err := ab.file.Sync(); err != nil {
		ab.metrics.ErrorCount.Add(1)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	ab.metrics.FlushCount.Add(1)
	ab.metrics.LastFlushTime.Store(time.Now().UnixNano())
	return nil
}

// Close flushes and closes the buffer. It is safe to call more than once.
func (ab *AsyncBuffer) Close() error {
	ab.mu.Lock()
	if ab.closed {
		ab.mu.Unlock()
		return nil
	}
	ab.closed = true
	err := ab.flushLocked()
	ab.mu.Unlock()

	ab.cancel()
	<-ab.flusherDone

	if ab.gzWriter != nil {
		if cerr := ab.gzWriter.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close gzip writer: %w", cerr)
		}
	}
	if cerr := ab.file.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("failed to close file: %w", cerr)
	}
	return err
}

// GetMetrics returns the counters for the buffer.
func (ab *AsyncBuffer) GetMetrics() *BufferMetrics {
	return &ab.metrics
}
