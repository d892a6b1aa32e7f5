package tasks

import (
	"fmt"

	"github.com/desertthunder/datainserter/internal/models"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Operation phase enumeration
type Phase int

const (
	Preload Phase = iota
	DetectDuplicates
	Provision
	Complete
)

func (p Phase) String() string {
	switch p {
	case Preload:
		return "preload"
	case DetectDuplicates:
		return "detect_duplicates"
	case Provision:
		return "provision"
	case Complete:
		return "complete"
	default:
		return ""
	}
}

func preloadUpdate(step, total int, kind models.ReferenceKind, count int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Preload,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Cached %d %s entries", count, kind),
	}
}

func detectingDuplicatesUpdate(total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   DetectDuplicates,
		Step:    0,
		Total:   total,
		Message: fmt.Sprintf("Checking %d emails against the identity store...", total),
	}
}

func duplicatesFoundUpdate(total, found int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   DetectDuplicates,
		Step:    total,
		Total:   total,
		Message: fmt.Sprintf("Found %d existing emails", found),
	}
}

func recordUpdate(step, total int, outcome models.RecordOutcome) ProgressUpdate {
	var msg string
	switch outcome.State {
	case models.StateSucceeded:
		msg = fmt.Sprintf("[%d/%d] ✓ row %d %s", step, total, outcome.Row, outcome.Email)
	case models.StateDuplicateSkipped:
		msg = fmt.Sprintf("[%d/%d] = row %d %s (duplicate)", step, total, outcome.Row, outcome.Email)
	default:
		msg = fmt.Sprintf("[%d/%d] ✗ row %d %s: %s", step, total, outcome.Row, outcome.Email, outcome.Message)
	}

	return ProgressUpdate{
		Phase:   Provision,
		Step:    step,
		Total:   total,
		Message: msg,
		Data:    outcome,
	}
}

func completeUpdate(result *models.ProcessingResult) ProgressUpdate {
	return ProgressUpdate{
		Phase: Complete,
		Step:  result.Processed(),
		Total: result.TotalRecords,
		Message: fmt.Sprintf(
			"Processed %d records: %d succeeded, %d duplicates, %d failed",
			result.Processed(), result.SuccessfulRecords, result.DuplicateRecords, result.FailedRecords,
		),
		Data: result,
	}
}
