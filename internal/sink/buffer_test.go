package sink

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/x-stp/domaingate/internal/validation"
)

func TestAsyncBufferFlushWritesThrough(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.bin")
	ab, err := NewAsyncBuffer(context.Background(), path, &AsyncBufferOptions{
		BufferSize:    64,
		FlushInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewAsyncBuffer: %v", err)
	}
	defer ab.Close()

	if _, err := ab.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if b, _ := os.ReadFile(path); len(b) != 0 {
		t.Fatalf("expected nothing on disk before Flush, got %q", b)
	}
	if err := ab.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(b) != "hello" {
		t.Fatalf("expected %q on disk, got %q", "hello", b)
	}
	if got := ab.GetMetrics().FlushCount.Load(); got != 1 {
		t.Fatalf("expected 1 flush, got %d", got)
	}
}

func TestAsyncBufferBackgroundFlush(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bg.bin")
	ab, err := NewAsyncBuffer(context.Background(), path, &AsyncBufferOptions{FlushInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewAsyncBuffer: %v", err)
	}
	defer ab.Close()

	if _, err := ab.Write([]byte("tick")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b, _ := os.ReadFile(path); bytes.Equal(b, []byte("tick")) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("background flusher never wrote the data")
}

func TestAsyncBufferClosedRejectsWrites(t *testing.T) {
	t.Parallel()

	ab, err := NewAsyncBuffer(context.Background(), filepath.Join(t.TempDir(), "x", "closed.bin"), nil)
	if err != nil {
		t.Fatalf("NewAsyncBuffer: %v", err)
	}
	if err := ab.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := ab.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := ab.Write([]byte("late")); !errors.Is(err, ErrBufferClosed) {
		t.Fatalf("expected ErrBufferClosed, got %v", err)
	}
	if err := ab.Flush(); !errors.Is(err, ErrBufferClosed) {
		t.Fatalf("expected ErrBufferClosed from Flush, got %v", err)
	}
}

func TestJSONLForwarderAppendsAcrossRuns(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "admitted.jsonl")
	for run := 0; run < 2; run++ {
		f, err := NewJSONLForwarder(context.Background(), path)
		if err != nil {
			t.Fatalf("NewJSONLForwarder: %v", err)
		}
		results := []validation.ValidationResult{{Domain: "a.test", Valid: true, ReputationScore: 70, SSLValid: true, WhoisAgeDays: 200}}
		if err := f.Forward(context.Background(), results); err != nil {
			t.Fatalf("Forward: %v", err)
		}
		if err := f.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer file.Close()
	lines := readLines(t, file)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var got map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got["domain"] != "a.test" || got["reputation_score"] != float64(70) || got["ssl_valid"] != true {
		t.Fatalf("unexpected record: %v", got)
	}
	if _, ok := got["failure_reason"]; ok {
		t.Fatalf("failure_reason should be omitted when empty")
	}
}

func TestJSONLForwarderCompressed(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "admitted.jsonl.gz")
	f, err := NewJSONLForwarder(context.Background(), path)
	if err != nil {
		t.Fatalf("NewJSONLForwarder: %v", err)
	}
	if err := f.Forward(context.Background(), []validation.ValidationResult{{Domain: "a.test", Valid: true}, {Domain: "b.test", Valid: true}}); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer file.Close()
	gz, err := gzip.NewReader(file)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	if lines := readLines(t, gz); len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
}

func TestMultiJoinsErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	m := Multi{LogForwarder{}, failingForwarder{boom}}
	if err := m.Forward(context.Background(), []validation.ValidationResult{{Domain: "a.test"}}); !errors.Is(err, boom) {
		t.Fatalf("expected joined error to contain boom, got %v", err)
	}
}

type failingForwarder struct{ err error }

func (f failingForwarder) Forward(context.Context, []validation.ValidationResult) error { return f.err }

func readLines(t *testing.T, r io.Reader) []string {
	t.Helper()
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return lines
}
