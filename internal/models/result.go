package models

import (
	"time"
)

// RecordState is the position of a record in the provisioning state machine.
type RecordState int

const (
	StatePending RecordState = iota
	StateDuplicateSkipped
	StateProvisioning
	StateSucceeded
	StateFailed
)

func (s RecordState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateDuplicateSkipped:
		return "duplicate"
	case StateProvisioning:
		return "provisioning"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return ""
	}
}

// Terminal reports whether no further transition is possible.
func (s RecordState) Terminal() bool {
	return s == StateDuplicateSkipped || s == StateSucceeded || s == StateFailed
}

// RecordOutcome is the terminal state reached by one record.
type RecordOutcome struct {
	Row      int         `json:"row"`
	Email    string      `json:"email"`
	State    RecordState `json:"-"`
	Status   string      `json:"status"`
	Attempts int         `json:"attempts"` // Provisioning attempts, zero for duplicates
	Message  string      `json:"message,omitempty"`
}

// ProcessingError captures why a record failed, with its source context.
type ProcessingError struct {
	Row       int       `json:"row"`
	Email     string    `json:"email"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ProcessingResult accumulates the outcome of a batch run.
type ProcessingResult struct {
	TotalRecords      int               `json:"total_records"`
	SuccessfulRecords int               `json:"successful_records"`
	DuplicateRecords  int               `json:"duplicate_records"`
	FailedRecords     int               `json:"failed_records"`
	Errors            []ProcessingError `json:"errors"`
	Outcomes          []RecordOutcome   `json:"outcomes"`
	Elapsed           time.Duration     `json:"elapsed"`
}

// NewProcessingResult creates an empty result for a batch of total records.
func NewProcessingResult(total int) *ProcessingResult {
	return &ProcessingResult{
		TotalRecords: total,
		Errors:       []ProcessingError{},
		Outcomes:     make([]RecordOutcome, 0, total),
	}
}

// SuccessRate returns successful records as a percentage of the total.
func (r *ProcessingResult) SuccessRate() float64 {
	if r.TotalRecords == 0 {
		return 0
	}
	return float64(r.SuccessfulRecords) / float64(r.TotalRecords) * 100
}

// Processed returns the number of records that reached a terminal state.
func (r *ProcessingResult) Processed() int {
	return r.SuccessfulRecords + r.DuplicateRecords + r.FailedRecords
}

// AddSuccess records a provisioned record.
func (r *ProcessingResult) AddSuccess(rec UserRecord, attempts int) {
	r.SuccessfulRecords++
	r.Outcomes = append(r.Outcomes, outcome(rec, StateSucceeded, attempts, ""))
}

// AddDuplicate records a record skipped as a duplicate.
func (r *ProcessingResult) AddDuplicate(rec UserRecord) {
	r.DuplicateRecords++
	r.Outcomes = append(r.Outcomes, outcome(rec, StateDuplicateSkipped, 0, ""))
}

// AddFailure records a failed record and its error.
func (r *ProcessingResult) AddFailure(rec UserRecord, attempts int, err error, at time.Time) {
	r.FailedRecords++
	msg := err.Error()
	r.Errors = append(r.Errors, ProcessingError{Row: rec.Row, Email: rec.Email, Message: msg, Timestamp: at})
	r.Outcomes = append(r.Outcomes, outcome(rec, StateFailed, attempts, msg))
}

// Merge folds the counters, errors and outcomes of other into r.
func (r *ProcessingResult) Merge(other *ProcessingResult) {
	if other == nil {
		return
	}
	r.TotalRecords += other.TotalRecords
	r.SuccessfulRecords += other.SuccessfulRecords
	r.DuplicateRecords += other.DuplicateRecords
	r.FailedRecords += other.FailedRecords
	r.Errors = append(r.Errors, other.Errors...)
	r.Outcomes = append(r.Outcomes, other.Outcomes...)
	r.Elapsed += other.Elapsed
}

func outcome(rec UserRecord, state RecordState, attempts int, msg string) RecordOutcome {
	return RecordOutcome{
		Row:      rec.Row,
		Email:    rec.Email,
		State:    state,
		Status:   state.String(),
		Attempts: attempts,
		Message:  msg,
	}
}
