// Package liveness maintains the heartbeat file an external probe watches to
// decide whether the worker is still making scheduling progress. The file
// holds a single RFC 3339 timestamp: the instant by which the scheduler
// expects to have started its next cycle.
package liveness

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Write atomically replaces the heartbeat file with the given deadline. The
// write goes through a temp file and rename so the probe never observes a
// partially written timestamp.
func Write(path string, deadline time.Time) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create heartbeat directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create heartbeat temp file: %w", err)
	}
	tmpName := tmp.Name()

	_, werr := tmp.WriteString(deadline.UTC().Format(time.RFC3339) + "\n")
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(tmpName)
		if werr != nil {
			return fmt.Errorf("write heartbeat: %w", werr)
		}
		return fmt.Errorf("close heartbeat temp file: %w", cerr)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace heartbeat file: %w", err)
	}
	return nil
}

// Read returns the deadline recorded in the heartbeat file.
func Read(path string) (time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, fmt.Errorf("read heartbeat file: %w", err)
	}
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return time.Time{}, fmt.Errorf("heartbeat file %s is empty", path)
	}
	deadline, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse heartbeat timestamp %q: %w", raw, err)
	}
	return deadline, nil
}

// Check reports whether the worker is healthy at the given instant: the
// heartbeat file must exist, parse, and its deadline plus the grace window
// must not lie in the past. A missing, empty, or unparseable file is
// unhealthy, not an infrastructure error.
func Check(path string, now time.Time, grace time.Duration) error {
	deadline, err := Read(path)
	if err != nil {
		return err
	}
	if now.After(deadline.Add(grace)) {
		return fmt.Errorf("heartbeat expired: deadline %s plus %s grace is before %s",
			deadline.UTC().Format(time.RFC3339), grace, now.UTC().Format(time.RFC3339))
	}
	return nil
}
