// package audit writes the append-only duplicate audit file of a provisioning run.
package audit

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/desertthunder/datainserter/internal/models"
	"github.com/desertthunder/datainserter/internal/shared"
)

// FilePattern names the audit file inside its directory.
const FilePattern = "duplicates_%s.txt"

// DetectedAtLayout formats the detection time of an entry.
const DetectedAtLayout = "2006-01-02 15:04:05"

const separator = "--------------------------------------------------"

// DuplicateLog appends skipped duplicate records to a timestamped text file.
//
// It is safe for concurrent use.
type DuplicateLog struct {
	mu   sync.Mutex
	dir  string
	path string
	now  func() time.Time
}

// NewDuplicateLog creates a [DuplicateLog] writing into dir.
func NewDuplicateLog(dir string) *DuplicateLog {
	return &DuplicateLog{dir: dir, now: time.Now}
}

// Init creates the directory and the audit file for this run. It must be called once before [DuplicateLog.Append].
func (d *DuplicateLog) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return fmt.Errorf("failed to create duplicates directory: %w", err)
	}

	path := filepath.Join(d.dir, fmt.Sprintf(FilePattern, d.now().Format(shared.StampLayout)))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create duplicates file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close duplicates file: %w", err)
	}

	d.path = path
	return nil
}

// Path returns the audit file path, or "" before [DuplicateLog.Init].
func (d *DuplicateLog) Path() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.path
}

// Append writes one entry for rec.
func (d *DuplicateLog) Append(rec models.DuplicateRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.path == "" {
		return fmt.Errorf("%w: duplicate log", shared.ErrNotInitialized)
	}

	f, err := os.OpenFile(d.path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open duplicates file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(FormatEntry(rec)); err != nil {
		return fmt.Errorf("failed to write duplicate entry: %w", err)
	}
	return nil
}

// FormatEntry renders one audit entry, trailing separator included.
func FormatEntry(rec models.DuplicateRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Row %d]\n", rec.Row)
	fmt.Fprintf(&b, "  Email: %s\n", rec.Email)
	fmt.Fprintf(&b, "  Existing User ID: %s\n", rec.ExistingID)
	fmt.Fprintf(&b, "  Detected At: %s\n", rec.DetectedAt.Format(DetectedAtLayout))
	b.WriteString(separator + "\n")
	return b.String()
}

// EnsureGitignore appends an ignore rule for audit files in dir to the .gitignore at path, unless one
// is already present. It reports whether the file was changed.
func EnsureGitignore(path, dir string) (bool, error) {
	rule := filepath.ToSlash(filepath.Join(dir, fmt.Sprintf(FilePattern, "*")))

	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}

	scanner := bufio.NewScanner(strings.NewReader(string(existing)))
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == rule {
			return false, nil
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return false, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	prefix := ""
	if len(existing) > 0 && !strings.HasSuffix(string(existing), "\n") {
		prefix = "\n"
	}
	if _, err := f.WriteString(prefix + rule + "\n"); err != nil {
		return false, fmt.Errorf("failed to update %s: %w", path, err)
	}
	return true, nil
}
