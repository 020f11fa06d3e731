package corpus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/cellavenue/rag-backend/pkg/logger"
)

// ForEachRecord streams a JSON-lines shard record by record. A line that
// fails to parse is logged and skipped; it never aborts the file.
func ForEachRecord[T any](path string, fn func(lineNo int, rec T) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open shard: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var rec T
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			logger.Warn("Skipping malformed record",
				zap.String("file", path),
				zap.Int("line", lineNo),
				zap.Error(err),
			)
			continue
		}

		if err := fn(lineNo, rec); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read shard: %w", err)
	}
	return nil
}

// ShardWriter appends JSON-lines records to a file, one record per line.
// Close is idempotent so callers can defer it and still check the error of
// an explicit close.
type ShardWriter struct {
	f      *os.File
	buf    *bufio.Writer
	enc    *json.Encoder
	closed bool
}

func NewShardWriter(path string) (*ShardWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create shard: %w", err)
	}
	buf := bufio.NewWriter(f)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &ShardWriter{f: f, buf: buf, enc: enc}, nil
}

func (w *ShardWriter) Write(rec any) error {
	// Encoder appends the trailing newline itself.
	if err := w.enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return nil
}

func (w *ShardWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.buf.Flush(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// WriteManifest writes a run summary as indented JSON. Manifests are
// write-once per run and never mutated afterwards.
func WriteManifest(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}
