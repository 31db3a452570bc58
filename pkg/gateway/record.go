package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Record is the durable session state that makes resuming across process
// restarts possible.
type Record struct {
	SessionID string `json:"session_id"`
	SN        uint64 `json:"sn"`
	Gateway   string `json:"gateway"`
}

// RecordFile owns the single-record session file. The file stays open for
// the process lifetime; every write rewrites it from the start and syncs.
type RecordFile struct {
	file *os.File
	path string
}

// OpenRecordFile opens or creates the session record at path and loads
// the stored record. A missing or empty file yields a nil record. A
// non-empty file that does not parse is a fatal operator error.
func OpenRecordFile(path string) (*RecordFile, *Record, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open session record %s: %w", path, err)
	}

	raw, err := io.ReadAll(file)
	if err != nil {
		_ = file.Close()
		return nil, nil, fmt.Errorf("read session record %s: %w", path, err)
	}

	rf := &RecordFile{file: file, path: path}
	if len(bytes.TrimSpace(raw)) == 0 {
		return rf, nil, nil
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		_ = file.Close()
		return nil, nil, fmt.Errorf("session record %s is corrupt, delete the file to start a fresh session: %w", path, err)
	}
	return rf, &rec, nil
}

// Write replaces the stored record and flushes it to disk.
func (r *RecordFile) Write(rec *Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}

	if _, err := r.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind session record %s: %w", r.path, err)
	}
	if err := r.file.Truncate(0); err != nil {
		return fmt.Errorf("truncate session record %s: %w", r.path, err)
	}
	if _, err := r.file.Write(raw); err != nil {
		return fmt.Errorf("write session record %s: %w", r.path, err)
	}
	if err := r.file.Sync(); err != nil {
		return fmt.Errorf("sync session record %s: %w", r.path, err)
	}
	return nil
}

// Close closes the underlying file.
func (r *RecordFile) Close() error {
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("close session record %s: %w", r.path, err)
	}
	return nil
}
