package sheet

import (
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/datainserter/internal/models"
	"github.com/desertthunder/datainserter/internal/shared"
)

// Stats counts what one pass over the input produced.
type Stats struct {
	Rows        int // Data rows seen after headers, empty rows excluded
	Records     int // Valid records returned
	Invalid     int // Rows missing required fields
	ParseErrors int // Malformed rows of a csv file
}

// Reader reads [models.UserRecord] values from one input file.
type Reader struct {
	path   string
	sheet  string
	input  shared.InputConfig
	logger *log.Logger
	stats  Stats
}

// NewReader creates a [Reader] for the file and layout described by input.
func NewReader(input shared.InputConfig, logger *log.Logger) *Reader {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Reader{path: input.Path, sheet: input.Sheet, input: input, logger: logger}
}

// Path returns the input file path.
func (r *Reader) Path() string { return r.path }

// Stats returns the counters of the most recent pass.
func (r *Reader) Stats() Stats { return r.stats }

// Records opens the input and returns a cursor positioned before the first record.
//
// Each call starts a new pass and resets [Reader.Stats].
func (r *Reader) Records() (*Cursor, error) {
	if r.path == "" {
		return nil, shared.ErrMissingArgument
	}

	src, err := openSource(r.path, r.sheet)
	if err != nil {
		return nil, err
	}

	r.stats = Stats{}
	return &Cursor{reader: r, src: src}, nil
}

// ReadAll returns every valid record of the input.
func (r *Reader) ReadAll() ([]models.UserRecord, error) {
	cur, err := r.Records()
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	var records []models.UserRecord
	for {
		rec, err := cur.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}

	r.logger.Info("read users from input", "path", r.path, "valid", len(records), "invalid", r.stats.Invalid, "errors", r.stats.ParseErrors)
	return records, nil
}

// Batches returns a cursor over consecutive slices of at most size records.
func (r *Reader) Batches(size int) (*BatchCursor, error) {
	if size <= 0 {
		size = 1
	}
	cur, err := r.Records()
	if err != nil {
		return nil, err
	}
	return &BatchCursor{cur: cur, size: size}, nil
}

// Cursor iterates the valid records of one pass.
type Cursor struct {
	reader   *Reader
	src      rowSource
	nonBlank int
	dataRows int
	done     bool
}

// Next returns the next valid record, or [io.EOF] when the input is exhausted.
//
// Rows that fail to parse are logged and skipped. Only errors of the underlying file are returned.
func (c *Cursor) Next() (models.UserRecord, error) {
	r := c.reader
	for !c.done {
		cells, err := c.src.Next()
		if errors.Is(err, io.EOF) {
			c.done = true
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				r.stats.ParseErrors++
				r.logger.Error("failed to parse row", "line", parseErr.Line, "error", err)
				continue
			}
			return models.UserRecord{}, err
		}

		if blank(cells) {
			continue
		}
		c.nonBlank++
		if c.nonBlank <= r.input.HeaderRows {
			continue
		}

		c.dataRows++
		r.stats.Rows++

		rec := r.parse(cells, c.dataRows)

		valid := rec.Valid()
		if r.input.RequireUserGroup {
			valid = rec.ValidStrict()
		}
		if !valid {
			r.stats.Invalid++
			r.logger.Debug("skipping invalid row", "row", rec.Row, "name", rec.Name, "email", rec.Email)
			continue
		}

		r.stats.Records++
		return rec, nil
	}
	return models.UserRecord{}, io.EOF
}

// Close releases the underlying file.
func (c *Cursor) Close() error {
	return c.src.Close()
}

// parse maps the configured columns of one row onto a record. The row number falls back to the
// position among data rows when the row column is missing or not an integer.
func (r *Reader) parse(cells []string, dataRow int) models.UserRecord {
	cols := r.input.Columns
	cell := func(col int) string {
		if col <= 0 || col > len(cells) {
			return ""
		}
		return strings.TrimSpace(cells[col-1])
	}

	rec := models.UserRecord{
		Row:          dataRow,
		Name:         cell(cols.Name),
		Email:        cell(cols.Email),
		Role:         cell(cols.Role),
		UserGroup:    cell(cols.UserGroup),
		Section:      cell(cols.Section),
		Division:     cell(cols.Division),
		ControlLevel: models.ControlSection,
	}

	if n, err := strconv.Atoi(strings.TrimSuffix(cell(cols.Row), ".0")); err == nil {
		rec.Row = n
	}
	if cols.ControlLevel > 0 {
		rec.ControlLevel = models.ParseControlLevel(cell(cols.ControlLevel))
	}

	return rec
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// BatchCursor groups the records of one pass into fixed-size batches.
type BatchCursor struct {
	cur  *Cursor
	size int
}

// Next returns the next batch, or [io.EOF] once every record has been returned. The final batch may
// be shorter than the configured size.
func (b *BatchCursor) Next() ([]models.UserRecord, error) {
	batch := make([]models.UserRecord, 0, b.size)
	for len(batch) < b.size {
		rec, err := b.cur.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return batch, err
		}
		batch = append(batch, rec)
	}

	if len(batch) == 0 {
		return nil, io.EOF
	}
	return batch, nil
}

// Close releases the underlying file.
func (b *BatchCursor) Close() error {
	return b.cur.Close()
}
