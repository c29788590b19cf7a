// Copyright 2026 The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventlog persists every event the listener processes as one
// JSON line, for offline inspection when the dashboard shows something
// surprising. The log deduplicates consecutive identical events per
// session (agents re-emit unchanged state on reconnect), rotates the
// active file by size, and compresses rotated files into a bounded set
// of archives.
package eventlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"

	"github.com/switchboard-io/switchboard/lib/clock"
	"github.com/switchboard-io/switchboard/lib/schema"
)

const (
	// defaultMaxFileSize is the active-file size at which rotation
	// triggers. Event lines are small (a few hundred bytes), so 32 MB
	// holds days of traffic for a busy fleet while keeping rotation
	// cheap enough to run inline with an append.
	defaultMaxFileSize int64 = 32 << 20

	// defaultMaxArchives bounds disk usage. Oldest archives are
	// deleted first.
	defaultMaxArchives = 8

	activeFileName = "events.jsonl"
	archivePrefix  = "events-"
)

// Compression selects the algorithm applied to rotated files. JSONL
// compresses well under zstd, which is the default; lz4 trades ratio
// for decode speed, and none keeps archives grep-able in place.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

// ParseCompression parses a compression name as it appears in config.
func ParseCompression(name string) (Compression, error) {
	switch Compression(name) {
	case CompressionNone, CompressionZstd, CompressionLZ4:
		return Compression(name), nil
	default:
		return "", fmt.Errorf("eventlog: unknown compression %q", name)
	}
}

// suffix returns the archive filename suffix for the algorithm.
func (c Compression) suffix() string {
	switch c {
	case CompressionZstd:
		return ".zst"
	case CompressionLZ4:
		return ".lz4"
	default:
		return ""
	}
}

// Options configures Open. Dir is required; everything else has
// working defaults.
type Options struct {
	Dir         string
	MaxFileSize int64
	MaxArchives int
	Compression Compression
	Clock       clock.Clock
	Logger      *slog.Logger
}

// Stats is a snapshot of the log's operational counters.
type Stats struct {
	Appended     uint64 `json:"appended"`
	Deduplicated uint64 `json:"deduplicated"`
	Rotations    uint64 `json:"rotations"`
	ActiveSize   int64  `json:"activeSize"`
}

// Log is an append-only JSONL event log with per-session dedup and
// size-based rotation. Safe for concurrent use, though in practice a
// single listener goroutine appends.
type Log struct {
	dir         string
	maxFileSize int64
	maxArchives int
	compression Compression
	clock       clock.Clock
	logger      *slog.Logger

	mu       sync.Mutex
	file     *os.File
	size     int64
	lastHash map[string][32]byte
	sequence uint64
	closed   bool

	appended     atomic.Uint64
	deduplicated atomic.Uint64
	rotations    atomic.Uint64
}

// Open creates the log directory if needed and opens (or resumes) the
// active file. A leftover active file from a previous run that already
// exceeds the size limit is rotated immediately.
func Open(options Options) (*Log, error) {
	if options.Dir == "" {
		return nil, errors.New("eventlog: options need a directory")
	}
	maxFileSize := options.MaxFileSize
	if maxFileSize <= 0 {
		maxFileSize = defaultMaxFileSize
	}
	maxArchives := options.MaxArchives
	if maxArchives <= 0 {
		maxArchives = defaultMaxArchives
	}
	compression := options.Compression
	if compression == "" {
		compression = CompressionZstd
	}
	clk := options.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if err := os.MkdirAll(options.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("eventlog: creating directory: %w", err)
	}

	log := &Log{
		dir:         options.Dir,
		maxFileSize: maxFileSize,
		maxArchives: maxArchives,
		compression: compression,
		clock:       clk,
		logger:      logger,
		lastHash:    make(map[string][32]byte),
	}
	if err := log.openActiveLocked(); err != nil {
		return nil, err
	}
	if log.size >= log.maxFileSize {
		if err := log.rotateLocked(); err != nil {
			log.file.Close()
			return nil, err
		}
	}
	return log, nil
}

func (l *Log) openActiveLocked() error {
	path := filepath.Join(l.dir, activeFileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("eventlog: opening active file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("eventlog: stat active file: %w", err)
	}
	l.file = file
	l.size = info.Size()
	return nil
}

// Entry is one decoded log line.
type Entry struct {
	Time      time.Time        `json:"time"`
	SessionID string           `json:"sessionID,omitempty"`
	Type      schema.EventType `json:"type"`
	Event     json.RawMessage  `json:"event"`
}

// Append writes one event as a JSON line. An event byte-identical to
// the previous event logged for the same session is skipped: agents
// replay unchanged state on reconnect and logging every copy buries
// the line that actually changed. Sessionless events deduplicate
// against each other under the empty session key.
func (l *Log) Append(event schema.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("eventlog: encoding event: %w", err)
	}
	hash := blake3.Sum256(payload)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.New("eventlog: log is closed")
	}

	if previous, ok := l.lastHash[event.SessionID]; ok && previous == hash {
		l.deduplicated.Add(1)
		return nil
	}

	line, err := json.Marshal(Entry{
		Time:      l.clock.Now(),
		SessionID: event.SessionID,
		Type:      event.Type,
		Event:     payload,
	})
	if err != nil {
		return fmt.Errorf("eventlog: encoding entry: %w", err)
	}
	line = append(line, '\n')

	written, err := l.file.Write(line)
	l.size += int64(written)
	if err != nil {
		return fmt.Errorf("eventlog: writing entry: %w", err)
	}
	l.appended.Add(1)
	l.lastHash[event.SessionID] = hash

	// A deleted session never emits again; drop its dedup state so
	// the map stays bounded by live sessions.
	if event.Type == schema.EventTypeSessionDeleted {
		delete(l.lastHash, event.SessionID)
	}

	if l.size >= l.maxFileSize {
		if err := l.rotateLocked(); err != nil {
			// The active file keeps growing past the limit until a
			// later rotation succeeds; appends must not fail over it.
			l.logger.Error("event log rotation failed", "error", err)
		}
	}
	return nil
}

// rotateLocked closes the active file, compresses it into a new
// archive, prunes old archives, and reopens a fresh active file.
// Callers hold l.mu.
func (l *Log) rotateLocked() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("eventlog: closing active file: %w", err)
	}

	l.sequence++
	activePath := filepath.Join(l.dir, activeFileName)
	archiveName := fmt.Sprintf("%s%d.%06d.jsonl%s",
		archivePrefix, l.clock.Now().UnixNano(), l.sequence, l.compression.suffix())
	archivePath := filepath.Join(l.dir, archiveName)

	if err := compressFile(activePath, archivePath, l.compression); err != nil {
		// Keep the data: fall back to an uncompressed rename.
		l.logger.Warn("compressing rotated event log failed, archiving raw",
			"error", err)
		fallback := strings.TrimSuffix(archivePath, l.compression.suffix())
		if err := os.Rename(activePath, fallback); err != nil {
			return fmt.Errorf("eventlog: archiving rotated file: %w", err)
		}
	} else {
		if err := os.Remove(activePath); err != nil {
			return fmt.Errorf("eventlog: removing rotated file: %w", err)
		}
	}
	l.rotations.Add(1)

	if err := l.pruneArchivesLocked(); err != nil {
		l.logger.Warn("pruning event log archives failed", "error", err)
	}

	if err := l.openActiveLocked(); err != nil {
		return err
	}
	return nil
}

// pruneArchivesLocked deletes the oldest archives beyond MaxArchives.
// Archive names embed a fixed-width nanosecond timestamp plus a
// rotation sequence, so lexical order is chronological order.
func (l *Log) pruneArchivesLocked() error {
	names, err := l.archiveNames()
	if err != nil {
		return err
	}
	for len(names) > l.maxArchives {
		if err := os.Remove(filepath.Join(l.dir, names[0])); err != nil {
			return fmt.Errorf("eventlog: removing archive %s: %w", names[0], err)
		}
		names = names[1:]
	}
	return nil
}

// archiveNames lists archive files sorted oldest first.
func (l *Log) archiveNames() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("eventlog: listing archives: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasPrefix(entry.Name(), archivePrefix) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Stats returns the log's operational counters.
func (l *Log) Stats() Stats {
	l.mu.Lock()
	size := l.size
	l.mu.Unlock()
	return Stats{
		Appended:     l.appended.Load(),
		Deduplicated: l.deduplicated.Load(),
		Rotations:    l.rotations.Load(),
		ActiveSize:   size,
	}
}

// Close flushes and closes the active file. Appends after Close fail.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("eventlog: closing active file: %w", err)
	}
	return nil
}

// compressFile writes a compressed copy of sourcePath to archivePath.
func compressFile(sourcePath, archivePath string, compression Compression) error {
	source, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("opening rotated file: %w", err)
	}
	defer source.Close()

	archive, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}

	switch compression {
	case CompressionZstd:
		encoder, err := zstd.NewWriter(archive, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			archive.Close()
			return fmt.Errorf("zstd encoder: %w", err)
		}
		if _, err := io.Copy(encoder, source); err != nil {
			encoder.Close()
			archive.Close()
			return fmt.Errorf("zstd compress: %w", err)
		}
		if err := encoder.Close(); err != nil {
			archive.Close()
			return fmt.Errorf("zstd flush: %w", err)
		}

	case CompressionLZ4:
		encoder := lz4.NewWriter(archive)
		if _, err := io.Copy(encoder, source); err != nil {
			encoder.Close()
			archive.Close()
			return fmt.Errorf("lz4 compress: %w", err)
		}
		if err := encoder.Close(); err != nil {
			archive.Close()
			return fmt.Errorf("lz4 flush: %w", err)
		}

	default:
		if _, err := io.Copy(archive, source); err != nil {
			archive.Close()
			return fmt.Errorf("copying rotated file: %w", err)
		}
	}

	if err := archive.Close(); err != nil {
		return fmt.Errorf("closing archive: %w", err)
	}
	return nil
}

// ReadFile decodes every entry in an active or archived log file,
// decompressing by filename suffix. Intended for tooling and tests,
// not the hot path.
func ReadFile(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("eventlog: opening %s: %w", path, err)
	}
	defer file.Close()

	var reader io.Reader = file
	switch {
	case strings.HasSuffix(path, ".zst"):
		decoder, err := zstd.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("eventlog: zstd reader: %w", err)
		}
		defer decoder.Close()
		reader = decoder
	case strings.HasSuffix(path, ".lz4"):
		reader = lz4.NewReader(file)
	}

	var entries []Entry
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("eventlog: decoding entry %d: %w", len(entries), err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("eventlog: reading %s: %w", path, err)
	}
	return entries, nil
}
