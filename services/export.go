package services

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

// ExportBatch renders a batch and its per-file results as an XLSX workbook:
// one summary sheet, one results sheet ordered like Get returns items.
func (s *BatchService) ExportBatch(ctx context.Context, batchID string) ([]byte, error) {
	detail, err := s.Get(ctx, batchID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	summarySheet := "Summary"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, fmt.Errorf("rename summary sheet: %w", err)
	}

	batch := detail.Batch
	summaryRows := [][]interface{}{
		{"Batch ID", batch.ID},
		{"Status", batch.Status},
		{"Created At", batch.CreatedAt.Format("2006-01-02 15:04:05")},
		{"Total Files", batch.TotalFiles},
		{"Processed Files", batch.ProcessedFiles},
		{"Success Files", batch.SuccessFiles},
		{"Failed Files", batch.FailedFiles},
		{"Skipped Files", batch.SkippedFiles},
	}
	if batch.StartedAt != nil {
		summaryRows = append(summaryRows, []interface{}{"Started At", batch.StartedAt.Format("2006-01-02 15:04:05")})
	}
	if batch.CompletedAt != nil {
		summaryRows = append(summaryRows, []interface{}{"Completed At", batch.CompletedAt.Format("2006-01-02 15:04:05")})
		if batch.StartedAt != nil {
			summaryRows = append(summaryRows, []interface{}{"Duration", batch.CompletedAt.Sub(*batch.StartedAt).Round(time.Second).String()})
		}
	}
	if batch.Error != "" {
		summaryRows = append(summaryRows, []interface{}{"Error", batch.Error})
	}

	for i, row := range summaryRows {
		for j, cell := range row {
			cellRef := fmt.Sprintf("%c%d", 'A'+j, i+1)
			f.SetCellValue(summarySheet, cellRef, cell)
		}
	}

	resultsSheet := "Results"
	index, err := f.NewSheet(resultsSheet)
	if err != nil {
		return nil, fmt.Errorf("create results sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headers := []string{
		"Filename", "Status", "Error", "Filter Reason",
		"Pages Processed", "Page Count", "Firm Name", "Design Rating", "Updated At",
	}
	for i, header := range headers {
		cell := fmt.Sprintf("%c1", 'A'+i)
		f.SetCellValue(resultsSheet, cell, header)
	}

	for rowIdx, item := range detail.Items {
		row := rowIdx + 2
		f.SetCellValue(resultsSheet, fmt.Sprintf("A%d", row), item.Filename)
		f.SetCellValue(resultsSheet, fmt.Sprintf("B%d", row), item.Status)
		f.SetCellValue(resultsSheet, fmt.Sprintf("C%d", row), item.Error)
		f.SetCellValue(resultsSheet, fmt.Sprintf("D%d", row), item.FilterReason)
		f.SetCellValue(resultsSheet, fmt.Sprintf("E%d", row), item.PagesProcessed)
		f.SetCellValue(resultsSheet, fmt.Sprintf("F%d", row), item.PageCount)
		f.SetCellValue(resultsSheet, fmt.Sprintf("G%d", row), item.FirmName)
		f.SetCellValue(resultsSheet, fmt.Sprintf("H%d", row), item.DesignRating)
		f.SetCellValue(resultsSheet, fmt.Sprintf("I%d", row), item.UpdatedAt.Format("2006-01-02 15:04:05"))
	}

	for i := range headers {
		col := fmt.Sprintf("%c:%c", 'A'+i, 'A'+i)
		f.SetColWidth(resultsSheet, col, col, 20)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
