// Package consent keeps the append-only record of consent decisions.
package consent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	. "github.com/roelfdiedericks/reportbot/internal/logging"
	"github.com/roelfdiedericks/reportbot/internal/paths"
)

// Decision is the recorded answer.
type Decision string

const (
	Accepted Decision = "ACCEPTED"
	Declined Decision = "DECLINED"
)

// Record is one consent decision, one JSON object per line on disk.
type Record struct {
	Timestamp time.Time `json:"ts"`
	Address   string    `json:"wa_id"`
	Name      string    `json:"name"`
	Decision  Decision  `json:"consent"`
	Version   string    `json:"consent_version"`
	Channel   string    `json:"channel,omitempty"`
}

// Ledger is the durable consent log.
type Ledger interface {
	Append(ctx context.Context, r Record) error
	// HasAccepted reports whether address has ever accepted.
	HasAccepted(ctx context.Context, address string) (bool, error)
}

// maxLineSize bounds a single ledger line.
const maxLineSize = 1 << 20

// FileLedger is a Ledger stored as a JSONL file.
type FileLedger struct {
	path string
	mu   sync.Mutex
}

// NewFileLedger returns a ledger at path, creating the parent directory.
func NewFileLedger(path string) (*FileLedger, error) {
	if err := paths.EnsureParentDir(path); err != nil {
		return nil, err
	}
	return &FileLedger{path: path}, nil
}

// Path returns the ledger file location.
func (l *FileLedger) Path() string {
	return l.path
}

func (l *FileLedger) Append(_ context.Context, r Record) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode consent record: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open consent ledger: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("write consent ledger: %w", err)
	}
	return f.Sync()
}

// HasAccepted scans every record. Malformed lines are skipped.
func (l *FileLedger) HasAccepted(ctx context.Context, address string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("open consent ledger: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo%1000 == 0 && ctx.Err() != nil {
			return false, ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			L_trace("consent: skipping malformed line", "line", lineNo, "error", err)
			continue
		}
		if r.Address == address && r.Decision == Accepted {
			return true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("read consent ledger: %w", err)
	}
	return false, nil
}
