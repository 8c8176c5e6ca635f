/**
 * @description
 * Spreadsheet exports of the commission ledger and payout requests for
 * finance reconciliation.
 */
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/affiliatehub/commission-service/internal/domain"
)

// ContentType is the MIME type of the generated workbooks.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const (
	commissionSheet = "Commissions"
	payoutSheet     = "Payouts"
)

var commissionHeaders = []string{"ID", "User ID", "Source Type", "Source ID", "Amount", "Status", "Created At", "Approved At", "Paid At", "Payout Request"}

var payoutHeaders = []string{"ID", "User ID", "Amount", "Method", "Details", "Status", "Requested At", "Processed At", "Processed By"}

// CommissionsWorkbook renders commissions as an XLSX workbook with a totals row.
func CommissionsWorkbook(commissions []domain.Commission) ([]byte, error) {
	rows := make([][]interface{}, 0, len(commissions)+1)
	total := domain.RoundMoney(sumCommissions(commissions))
	for _, c := range commissions {
		rows = append(rows, []interface{}{
			c.ID,
			c.UserID,
			string(c.SourceType),
			c.SourceID,
			c.Amount.InexactFloat64(),
			string(c.Status),
			formatTime(&c.CreatedAt),
			formatTime(c.ApprovedAt),
			formatTime(c.PaidAt),
			derefString(c.PayoutRequestID),
		})
	}
	rows = append(rows, []interface{}{"TOTAL", "", "", "", total.InexactFloat64()})
	return buildWorkbook(commissionSheet, commissionHeaders, rows, []float64{38, 38, 14, 38, 12, 12, 20, 20, 20, 38})
}

// PayoutsWorkbook renders payout requests as an XLSX workbook.
func PayoutsWorkbook(requests []domain.PayoutRequest) ([]byte, error) {
	rows := make([][]interface{}, 0, len(requests))
	for _, p := range requests {
		rows = append(rows, []interface{}{
			p.ID,
			p.UserID,
			p.Amount.InexactFloat64(),
			p.PaymentMethod.Type,
			formatDetails(p.PaymentMethod.Details),
			string(p.Status),
			formatTime(&p.RequestedAt),
			formatTime(p.ProcessedAt),
			derefString(p.ProcessedBy),
		})
	}
	return buildWorkbook(payoutSheet, payoutHeaders, rows, []float64{38, 38, 12, 16, 40, 12, 20, 20, 38})
}

func buildWorkbook(sheet string, headers []string, rows [][]interface{}, widths []float64) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	for c, v := range headers {
		cell, _ := excelize.CoordinatesToCellName(c+1, 1)
		_ = f.SetCellValue(sheet, cell, v)
	}
	for r, row := range rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}

	for c, width := range widths {
		col, _ := excelize.ColumnNumberToName(c + 1)
		_ = f.SetColWidth(sheet, col, col, width)
	}

	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#1F2937"}, Pattern: 1},
	})
	if err == nil {
		last, _ := excelize.CoordinatesToCellName(len(headers), 1)
		_ = f.SetCellStyle(sheet, "A1", last, style)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func sumCommissions(commissions []domain.Commission) decimal.Decimal {
	total := decimal.Zero
	for _, c := range commissions {
		total = total.Add(c.Amount)
	}
	return total
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatDetails(details map[string]interface{}) string {
	if len(details) == 0 {
		return ""
	}
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, details[k]))
	}
	return strings.Join(parts, "; ")
}
