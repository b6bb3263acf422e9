// Package billing derives a settlement summary from a student's tuition
// record: pending periods, late fees, and totals. Pure domain logic — the
// only dependency is the decimal type used for money arithmetic.
package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/velasquezhn3/chatbotwhatsapp/internal/domain/student"
	"github.com/velasquezhn3/chatbotwhatsapp/pkg/timeutil"
)

// Billing constants.
const (
	// DueDay is the day of the following month on which an unpaid period
	// starts accruing a late fee.
	DueDay = 11
)

// lateFeeRate is the late-fee fraction of the monthly amount (5%).
var lateFeeRate = decimal.NewFromFloat(0.05)

// Summary is the settlement summary for one student.
// Money fields are rounded to 2 decimal places at this boundary only;
// accrual is computed on unrounded values.
type Summary struct {
	// MonthlyAmount is the tuition amount per period.
	MonthlyAmount decimal.Decimal

	// PendingPeriods lists unpaid periods in calendar order, display case.
	PendingPeriods []string

	// TotalPendingAmount is MonthlyAmount × len(PendingPeriods).
	TotalPendingAmount decimal.Decimal

	// TotalLateFee is the sum of accrued late fees.
	TotalLateFee decimal.Decimal

	// TotalDue is TotalPendingAmount + TotalLateFee.
	TotalDue decimal.Decimal

	// IsCurrent is true iff there are no pending periods.
	IsCurrent bool

	// NextDueDate is when the current period starts accruing a late fee:
	// the 11th of the following month. Always in the future relative to
	// the evaluation instant.
	NextDueDate time.Time
}

// CalculateDebt derives the settlement summary for a student as of "now".
// Pending periods run from the plan's first payable period through the
// current calendar period; a period with a blank recorded amount is pending.
// Each pending period falls due on the 11th of the following period, and
// accrues a 5% late fee once "now" is strictly past that date.
func CalculateDebt(s *student.Student, now time.Time) Summary {
	local := timeutil.ToLocal(now)
	current := student.Period(local.Month())

	summary := Summary{
		MonthlyAmount: s.MonthlyAmount,
		TotalLateFee:  decimal.Zero,
	}

	pendingCount := 0
	for p := s.Plan.FirstPayablePeriod(); p <= current; p++ {
		if s.IsPaid(p) {
			continue
		}
		pendingCount++
		summary.PendingPeriods = append(summary.PendingPeriods, timeutil.MonthName(p.Month()))

		// Strictly after the due day: the fee starts on the 12th.
		if timeutil.StartOfDay(local).After(dueDate(p, current, local.Year())) {
			summary.TotalLateFee = summary.TotalLateFee.Add(s.MonthlyAmount.Mul(lateFeeRate))
		}
	}

	summary.TotalPendingAmount = s.MonthlyAmount.Mul(decimal.NewFromInt(int64(pendingCount)))
	summary.TotalDue = summary.TotalPendingAmount.Add(summary.TotalLateFee)
	summary.IsCurrent = pendingCount == 0
	summary.NextDueDate = dueDate(current, current, local.Year())

	// Round only at the output boundary.
	summary.MonthlyAmount = summary.MonthlyAmount.Round(2)
	summary.TotalPendingAmount = summary.TotalPendingAmount.Round(2)
	summary.TotalLateFee = summary.TotalLateFee.Round(2)
	summary.TotalDue = summary.TotalDue.Round(2)

	return summary
}

// dueDate returns the due day for period p: the 11th of the following
// period at start of day. December wraps into January of the next
// year, with the anchor year stepped back by one when the current period is
// January and the pending one is December (the December row belongs to the
// school year that just ended).
func dueDate(p, current student.Period, anchorYear int) time.Time {
	year := anchorYear
	if p == 12 {
		year++
		if current == 1 {
			year--
		}
	}
	return timeutil.Date(year, int(p.Next()), DueDay)
}
