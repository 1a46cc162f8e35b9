package target

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Record is the durable pid mapping for one target: a plain text file
// holding the decimal process id. It is what lets a target's identity
// survive supervisor restarts. The supervising loop is the only writer;
// no locking is needed by construction.
type Record struct {
	Path string
}

// Read returns the recorded pid. A missing file, an unparsable file or a
// non-positive pid is an error; callers treat any error as "no record".
// The file may carry trailing content after the first line, which is
// ignored for forward compatibility.
func (r Record) Read() (int, error) {
	if r.Path == "" {
		return 0, errors.New("pid record has no path")
	}
	b, err := os.ReadFile(r.Path)
	if err != nil {
		return 0, err
	}
	pidLine, _, _ := strings.Cut(string(b), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(pidLine))
	if err != nil {
		return 0, fmt.Errorf("invalid pid in %s: %w", r.Path, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("invalid pid %d in %s", pid, r.Path)
	}
	return pid, nil
}

// Write persists pid, creating parent directories as needed.
func (r Record) Write(pid int) error {
	if r.Path == "" {
		return errors.New("pid record has no path")
	}
	if pid <= 0 {
		return fmt.Errorf("refusing to record invalid pid %d", pid)
	}
	if dir := filepath.Dir(r.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}
	return os.WriteFile(r.Path, []byte(strconv.Itoa(pid)+"\n"), 0o600)
}

// Remove discards the record. Removing an absent record is not an error.
func (r Record) Remove() error {
	if r.Path == "" {
		return nil
	}
	if err := os.Remove(r.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
