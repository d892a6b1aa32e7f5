package audit

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/desertthunder/datainserter/internal/models"
	"github.com/desertthunder/datainserter/internal/shared"
	tu "github.com/desertthunder/datainserter/internal/testing"
)

func TestDuplicateLog(t *testing.T) {
	fixed := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	id := uuid.MustParse("0b9f3c52-77a5-4a4e-9d0a-2f5f7a0c9e11")

	t.Run("Init creates a timestamped file", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "DuplicateRecords")
		log := NewDuplicateLog(dir)
		log.now = func() time.Time { return fixed }

		if log.Path() != "" {
			t.Error("expected empty path before Init")
		}
		if err := log.Init(); err != nil {
			t.Fatalf("failed to init: %v", err)
		}

		want := filepath.Join(dir, "duplicates_09.03.2024-14-05-07.txt")
		if log.Path() != want {
			t.Errorf("expected %s, got %s", want, log.Path())
		}
		tu.AssertDirExists(t, dir)
		tu.AssertFileExists(t, want)
	})

	t.Run("Append writes entries", func(t *testing.T) {
		log := NewDuplicateLog(t.TempDir())
		if err := log.Init(); err != nil {
			t.Fatalf("failed to init: %v", err)
		}

		rec := models.DuplicateRecord{Row: 12, Email: "jane@example.com", ExistingID: id, DetectedAt: fixed}
		if err := log.Append(rec); err != nil {
			t.Fatalf("failed to append: %v", err)
		}
		if err := log.Append(rec); err != nil {
			t.Fatalf("failed to append: %v", err)
		}

		want := "[Row 12]\n" +
			"  Email: jane@example.com\n" +
			"  Existing User ID: 0b9f3c52-77a5-4a4e-9d0a-2f5f7a0c9e11\n" +
			"  Detected At: 2024-03-09 14:05:07\n" +
			strings.Repeat("-", 50) + "\n"

		if got := tu.MustReadFile(t, log.Path()); got != want+want {
			t.Errorf("unexpected content:\n%s", got)
		}
	})

	t.Run("Append before Init", func(t *testing.T) {
		err := NewDuplicateLog(t.TempDir()).Append(models.DuplicateRecord{})
		if !errors.Is(err, shared.ErrNotInitialized) {
			t.Errorf("expected ErrNotInitialized, got %v", err)
		}
	})

	t.Run("concurrent appends stay whole", func(t *testing.T) {
		log := NewDuplicateLog(t.TempDir())
		if err := log.Init(); err != nil {
			t.Fatalf("failed to init: %v", err)
		}

		var wg sync.WaitGroup
		for i := range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := log.Append(models.DuplicateRecord{Row: i, Email: "x@example.com", DetectedAt: fixed}); err != nil {
					t.Errorf("failed to append: %v", err)
				}
			}()
		}
		wg.Wait()

		content := tu.MustReadFile(t, log.Path())
		if n := strings.Count(content, "[Row "); n != 20 {
			t.Errorf("expected 20 entries, got %d", n)
		}
		if n := strings.Count(content, strings.Repeat("-", 50)+"\n"); n != 20 {
			t.Errorf("expected 20 separators, got %d", n)
		}
	})
}

func TestEnsureGitignore(t *testing.T) {
	t.Run("creates and is idempotent", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".gitignore")

		changed, err := EnsureGitignore(path, "DuplicateRecords")
		if err != nil || !changed {
			t.Fatalf("expected file to be created, got %v, %v", changed, err)
		}
		changed, err = EnsureGitignore(path, "DuplicateRecords")
		if err != nil || changed {
			t.Fatalf("expected no change, got %v, %v", changed, err)
		}

		if got := tu.MustReadFile(t, path); got != "DuplicateRecords/duplicates_*.txt\n" {
			t.Errorf("unexpected content %q", got)
		}
	})

	t.Run("appends after existing rules", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".gitignore")
		if err := os.WriteFile(path, []byte("bin/"), 0644); err != nil {
			t.Fatalf("failed to write gitignore: %v", err)
		}

		if _, err := EnsureGitignore(path, "out"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := tu.MustReadFile(t, path); got != "bin/\nout/duplicates_*.txt\n" {
			t.Errorf("unexpected content %q", got)
		}
	})
}
