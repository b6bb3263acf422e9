// Package student contains the domain model for a student's tuition record.
// A Student is derived per lookup from the cached ledger workbook and is
// never persisted independently.
package student

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// IDLength is the fixed length of a student identity number.
const IDLength = 13

// ID represents a student identity number as recorded in the ledger.
type ID string

// IsValid checks that the ID is exactly IDLength digits.
func (id ID) IsValid() bool {
	s := string(id)
	if len(s) != IDLength {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// String returns the string representation of the ID.
func (id ID) String() string {
	return string(id)
}

// Period represents a billing period (a calendar month, 1..12).
type Period int

// IsValid checks that the period is a calendar month.
func (p Period) IsValid() bool {
	return p >= 1 && p <= 12
}

// Month returns the period as a time.Month.
func (p Period) Month() time.Month {
	return time.Month(p)
}

// Next returns the following period, wrapping December into January.
func (p Period) Next() Period {
	if p == 12 {
		return 1
	}
	return p + 1
}

// ══════════════════════════════════════════════════════════════════════════════
// PAYMENT PLAN
// ══════════════════════════════════════════════════════════════════════════════

// Plan determines the first period for which tuition is due.
type Plan string

const (
	// PlanA bills from February (enrollment fee covers January).
	PlanA Plan = "A"
	// PlanB bills from January.
	PlanB Plan = "B"
)

// IsValid checks that the plan is a known variant.
func (p Plan) IsValid() bool {
	return p == PlanA || p == PlanB
}

// FirstPayablePeriod returns the first period for which tuition is due.
func (p Plan) FirstPayablePeriod() Period {
	if p == PlanA {
		return 2
	}
	return 1
}

// ParsePlan interprets a ledger plan cell. Cells containing "A" (any case,
// surrounding whitespace tolerated) map to PlanA; everything else to PlanB,
// matching how the ledger has historically been filled in.
func ParsePlan(cell string) Plan {
	if strings.EqualFold(strings.TrimSpace(cell), "A") {
		return PlanA
	}
	return PlanB
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTITY
// ══════════════════════════════════════════════════════════════════════════════

// Errors returned by ledger lookups.
var (
	// ErrStudentNotFound is returned when no ledger row matches the ID.
	ErrStudentNotFound = errors.New("student: not found in ledger")

	// ErrInvalidID is returned for a structurally invalid identity number.
	ErrInvalidID = errors.New("student: invalid identity number")
)

// Student is a tuition record parsed from one ledger row.
type Student struct {
	// ID is the student identity number.
	ID ID

	// Name is the student display name.
	Name string

	// Grade is the enrolled grade/class label.
	Grade string

	// Plan is the billing plan.
	Plan Plan

	// MonthlyAmount is the tuition amount due per period.
	MonthlyAmount decimal.Decimal

	// Payments maps each period from the plan's first payable period through
	// the current calendar period to the raw recorded cell. A missing or
	// blank cell means the period is pending.
	Payments map[Period]string

	// PIN is the registration secret recorded for this student.
	PIN string
}

// IsPaid reports whether the given period has a non-blank recorded amount.
func (s *Student) IsPaid(p Period) bool {
	v, ok := s.Payments[p]
	return ok && strings.TrimSpace(v) != ""
}

// Ledger looks up students in the tuition ledger.
// Implemented by the workbook cache in infrastructure.
type Ledger interface {
	// FindStudent returns the first ledger row matching the ID,
	// or ErrStudentNotFound.
	FindStudent(ctx context.Context, id ID) (*Student, error)
}
