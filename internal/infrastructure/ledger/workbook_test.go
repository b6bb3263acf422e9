package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/velasquezhn3/chatbotwhatsapp/internal/domain/student"
)

// buildWorkbook writes an xlsx with the default layout: one header row, then
// one row per entry of cells.
func buildWorkbook(t *testing.T, rows [][]interface{}) []byte {
	t.Helper()

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)

	header := []interface{}{"IDENTIDAD", "NOMBRE", "GRADO", "PLAN", "MENSUALIDAD", "PIN",
		"ENE", "FEB", "MAR", "ABR", "MAY", "JUN", "JUL", "AGO", "SEP", "OCT", "NOV", "DIC"}
	require.NoError(t, f.SetSheetRow(sheet, "A1", &header))

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestFind_ReturnsFirstMatchingRow(t *testing.T) {
	data := buildWorkbook(t, [][]interface{}{
		{"0801199901235", "Ana Castro", "4TO", "B", "L. 1,500.00", "4821", "", "1500", "1500", "", ""},
		{"0801200105678", "Luis Mejia", "2DO", "A", 500, "7733", "", "500", "500", "500", ""},
	})

	wb, err := Parse(data, DefaultConfig())
	require.NoError(t, err)

	s, err := wb.Find("0801200105678", 6)
	require.NoError(t, err)
	assert.Equal(t, "Luis Mejia", s.Name)
	assert.Equal(t, "2DO", s.Grade)
	assert.Equal(t, student.PlanA, s.Plan)
	assert.Equal(t, "500", s.MonthlyAmount.String())
	assert.Equal(t, "7733", s.PIN)
}

func TestFind_MissReturnsStudentNotFound(t *testing.T) {
	data := buildWorkbook(t, [][]interface{}{
		{"0801199901235", "Ana Castro", "4TO", "B", "1500", "4821"},
	})

	wb, err := Parse(data, DefaultConfig())
	require.NoError(t, err)

	_, err = wb.Find("9999999999999", 6)
	assert.ErrorIs(t, err, student.ErrStudentNotFound)
}

func TestFind_PaymentsSpanPlanFirstPeriodThroughCurrent(t *testing.T) {
	data := buildWorkbook(t, [][]interface{}{
		// Plan A: periods 2..current. Short row: cells past April are absent.
		{"0801200105678", "Luis Mejia", "2DO", "A", "500", "7733", "", "500", "500 L."},
	})

	wb, err := Parse(data, DefaultConfig())
	require.NoError(t, err)

	s, err := wb.Find("0801200105678", 5)
	require.NoError(t, err)

	require.Len(t, s.Payments, 4)
	assert.Equal(t, "500", s.Payments[2])
	assert.Equal(t, "500 L.", s.Payments[3])
	// Missing trailing cells read as blank, so April and May are pending.
	assert.Equal(t, "", s.Payments[4])
	assert.Equal(t, "", s.Payments[5])
	assert.False(t, s.IsPaid(4))
	assert.True(t, s.IsPaid(2))
}

func TestFind_PlanBStartsAtJanuary(t *testing.T) {
	data := buildWorkbook(t, [][]interface{}{
		{"0801199901235", "Ana Castro", "4TO", "B", "1500", "4821", "1500", "1500"},
	})

	wb, err := Parse(data, DefaultConfig())
	require.NoError(t, err)

	s, err := wb.Find("0801199901235", 2)
	require.NoError(t, err)
	require.Len(t, s.Payments, 2)
	assert.Equal(t, "1500", s.Payments[1])
}

func TestNormalizeAmount(t *testing.T) {
	tests := []struct {
		name string
		cell string
		want string
	}{
		{"native number", "500", "500"},
		{"decimal number", "1500.5", "1500.5"},
		{"currency prefix", "L. 1,500.00", "1500"},
		{"currency suffix", "1,500.00 Lps", "1500"},
		{"whitespace", "  750  ", "750"},
		{"blank", "", "0"},
		{"garbage", "pendiente", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeAmount(tt.cell).String())
		})
	}
}
