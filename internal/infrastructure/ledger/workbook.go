// Package ledger parses the school tuition workbook and caches the parsed
// copy process-wide.
//
// The workbook layout is configured, not discovered: the school office owns
// the spreadsheet and its column order changes between school years, so every
// column role and the header offset come from configuration.
package ledger

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/velasquezhn3/chatbotwhatsapp/internal/domain/student"
)

// ═══════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ═══════════════════════════════════════════════════════════════════════════

// Columns holds zero-based column indexes for each role the parser reads.
// Period columns are contiguous: period 1 lives at FirstPeriod, period 12 at
// FirstPeriod+11.
type Columns struct {
	ID          int
	Name        int
	Grade       int
	Plan        int
	Amount      int
	PIN         int
	FirstPeriod int
}

// Config describes the workbook layout.
type Config struct {
	// SheetName selects the sheet to scan. Empty means the first sheet.
	SheetName string

	// HeaderRows is the number of rows to skip before student rows begin.
	HeaderRows int

	Columns Columns
}

// DefaultConfig matches the office spreadsheet for the current school year.
func DefaultConfig() Config {
	return Config{
		HeaderRows: 1,
		Columns: Columns{
			ID:          0,
			Name:        1,
			Grade:       2,
			Plan:        3,
			Amount:      4,
			PIN:         5,
			FirstPeriod: 6,
		},
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// WORKBOOK
// ═══════════════════════════════════════════════════════════════════════════

// Workbook is a parsed, immutable snapshot of the ledger spreadsheet.
type Workbook struct {
	rows   [][]string
	config Config
}

// Parse reads an xlsx export into a Workbook. Formula cells arrive as their
// computed result and numeric cells as their formatted string, so every cell
// is handled as text from here on.
func Parse(data []byte, config Config) (*Workbook, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := config.SheetName
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(rows) < config.HeaderRows {
		return nil, fmt.Errorf("sheet %q has %d rows, expected at least %d header rows", sheet, len(rows), config.HeaderRows)
	}

	return &Workbook{rows: rows, config: config}, nil
}

// Find scans the identity column after the header offset and returns the
// first matching row as a Student. The Payments map spans every period from
// the plan's first payable period through current, missing cells included as
// blank.
func (w *Workbook) Find(id student.ID, current student.Period) (*student.Student, error) {
	cols := w.config.Columns
	for _, row := range w.rows[w.config.HeaderRows:] {
		if strings.TrimSpace(cellAt(row, cols.ID)) != string(id) {
			continue
		}

		plan := student.ParsePlan(cellAt(row, cols.Plan))
		s := &student.Student{
			ID:            id,
			Name:          strings.TrimSpace(cellAt(row, cols.Name)),
			Grade:         strings.TrimSpace(cellAt(row, cols.Grade)),
			Plan:          plan,
			MonthlyAmount: normalizeAmount(cellAt(row, cols.Amount)),
			PIN:           strings.TrimSpace(cellAt(row, cols.PIN)),
			Payments:      make(map[student.Period]string),
		}
		for p := plan.FirstPayablePeriod(); p <= current; p++ {
			s.Payments[p] = cellAt(row, cols.FirstPeriod+int(p)-1)
		}
		return s, nil
	}
	return nil, student.ErrStudentNotFound
}

// cellAt tolerates short rows: excelize trims trailing empty cells.
func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

// ═══════════════════════════════════════════════════════════════════════════
// AMOUNT NORMALIZATION
// ═══════════════════════════════════════════════════════════════════════════

var amountPattern = regexp.MustCompile(`-?\d[\d,]*(?:\.\d+)?`)

// normalizeAmount extracts a decimal from however the office typed the cell:
// a plain number, or a formatted string such as "L. 1,500.00" with currency
// symbol and thousands separators. Anything unparseable is 0.
func normalizeAmount(cell string) decimal.Decimal {
	match := amountPattern.FindString(cell)
	if match == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(match, ",", ""))
	if err != nil {
		return decimal.Zero
	}
	return d
}
