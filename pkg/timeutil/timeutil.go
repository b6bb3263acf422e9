// Package timeutil provides timezone utilities for the school's timezone
// (America/Tegucigalpa, UTC-6). All guardian-facing dates — greeting stamps,
// billing due dates — are computed in this zone.
// Honduras does not observe DST, so a fixed zone is correct year-round.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"time"
)

// SchoolTZ is the school timezone (UTC-6, no DST).
var SchoolTZ = time.FixedZone("America/Tegucigalpa", -6*60*60)

// Now returns the current time in the school timezone.
func Now() time.Time {
	return time.Now().In(SchoolTZ)
}

// ToLocal converts a time to the school timezone.
func ToLocal(t time.Time) time.Time {
	return t.In(SchoolTZ)
}

// Date creates a time in the school timezone with the given date.
func Date(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, SchoolTZ)
}

// DateTime creates a time in the school timezone with the given date and time.
func DateTime(year, month, day, hour, min, sec int) time.Time {
	return time.Date(year, time.Month(month), day, hour, min, sec, 0, SchoolTZ)
}

// StartOfDay returns the start of the day (00:00:00) in the school timezone.
func StartOfDay(t time.Time) time.Time {
	local := ToLocal(t)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, SchoolTZ)
}

// DateKey returns the calendar date as "YYYY-MM-DD" in the school timezone.
// Used to stamp once-per-day events like the greeting.
func DateKey(t time.Time) string {
	local := ToLocal(t)
	return fmt.Sprintf("%04d-%02d-%02d", local.Year(), local.Month(), local.Day())
}

// monthNames holds Spanish month names indexed by time.Month.
var monthNames = [13]string{
	"",
	"ENERO", "FEBRERO", "MARZO", "ABRIL", "MAYO", "JUNIO",
	"JULIO", "AGOSTO", "SEPTIEMBRE", "OCTUBRE", "NOVIEMBRE", "DICIEMBRE",
}

// MonthName returns the Spanish display name for a month (upper case).
func MonthName(m time.Month) string {
	if m < time.January || m > time.December {
		return ""
	}
	return monthNames[m]
}

// FormatDate formats a date as "02/01/2006" in the school timezone.
func FormatDate(t time.Time) string {
	return ToLocal(t).Format("02/01/2006")
}
