package sheet

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/desertthunder/datainserter/internal/shared"
)

// rowSource yields the raw cells of each physical row, returning [io.EOF] at the end.
type rowSource interface {
	Next() ([]string, error)
	Close() error
}

// openSource picks a row source by file extension.
func openSource(path, sheet string) (rowSource, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm", ".xltx", ".xltm":
		return openWorkbook(path, sheet)
	case ".csv":
		return openCSV(path)
	default:
		return nil, fmt.Errorf("%w: unsupported input format %q", shared.ErrInvalidInput, filepath.Ext(path))
	}
}

type workbookSource struct {
	file *excelize.File
	rows *excelize.Rows
}

func openWorkbook(path, sheet string) (*workbookSource, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			f.Close()
			return nil, fmt.Errorf("%w: workbook has no sheets", shared.ErrInvalidInput)
		}
		sheet = sheets[0]
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}

	return &workbookSource{file: f, rows: rows}, nil
}

func (w *workbookSource) Next() ([]string, error) {
	if !w.rows.Next() {
		if err := w.rows.Error(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return w.rows.Columns()
}

func (w *workbookSource) Close() error {
	return errors.Join(w.rows.Close(), w.file.Close())
}

type csvSource struct {
	file   *os.File
	reader *csv.Reader
}

func openCSV(path string) (*csvSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv file: %w", err)
	}

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	return &csvSource{file: f, reader: r}, nil
}

func (c *csvSource) Next() ([]string, error) {
	return c.reader.Read()
}

func (c *csvSource) Close() error {
	return c.file.Close()
}
