package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/docupipe/contractscan/constants"
	"github.com/docupipe/contractscan/internal/contract"
	"github.com/docupipe/contractscan/internal/repository"
)

// Service produces XLSX bytes from the processed document records.
type Service struct {
	docs   *repository.DocumentStore
	logger *slog.Logger
}

func NewService(docs *repository.DocumentStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{docs: docs, logger: logger}
}

// ExportResultsXLSX returns a workbook with one row per processed
// document plus a corruption summary sheet.
func (s *Service) ExportResultsXLSX(ctx context.Context) ([]byte, error) {
	start := time.Now()

	var all []*repository.Document
	for _, status := range []constants.DocStatus{
		constants.DocStatusCompleted, constants.DocStatusReview, constants.DocStatusFailed,
	} {
		docs, err := s.docs.ListByStatus(ctx, status, 0)
		if err != nil {
			return nil, fmt.Errorf("list %s documents: %w", status, err)
		}
		all = append(all, docs...)
	}

	f := excelize.NewFile()
	const sheet = "Contracts"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)
	if index, _ := f.GetSheetIndex("Sheet1"); index != -1 {
		_ = f.DeleteSheet("Sheet1")
	}

	headers := []string{
		"File",
		"Counterparty",
		"Contract Name",
		"Type",
		"Address",
		"Country",
		"Signed",
		"Start",
		"End",
		"Signature Status",
		"Confidence",
		"Needs Review",
		"Review Reasons",
		"Status",
		"Strategy",
		"Text Source",
		"Error",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	corruption := map[string]int{}
	row := 2
	for _, doc := range all {
		if doc.Corruption != "" {
			corruption[doc.Corruption]++
		}

		var fields contract.Fields
		_ = json.Unmarshal([]byte(doc.FieldsJSON), &fields)

		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		write(1, doc.FileName)
		write(2, fields.Party)
		write(3, fields.ContractName)
		write(4, fields.ContractType)
		write(5, fields.Address)
		write(6, fields.Country)
		write(7, fields.SignedDate)
		write(8, fields.StartDate)
		write(9, fields.EndDate)
		write(10, fields.SignatureStatus)
		write(11, fmt.Sprintf("%.1f", doc.Confidence))
		write(12, doc.NeedsReview)
		write(13, doc.ReviewReasons)
		write(14, string(doc.Status))
		write(15, doc.Strategy)
		write(16, doc.TextSource)
		write(17, doc.Error)
		row++
	}

	_ = f.SetColWidth(sheet, "A", "A", 40)
	_ = f.SetColWidth(sheet, "B", "C", 30)
	_ = f.SetColWidth(sheet, "D", "D", 22)
	_ = f.SetColWidth(sheet, "E", "E", 40)
	_ = f.SetColWidth(sheet, "F", "J", 16)
	_ = f.SetColWidth(sheet, "M", "M", 40)
	_ = f.SetColWidth(sheet, "Q", "Q", 40)

	if err := s.writeCorruptionSheet(f, corruption); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"rows", len(all),
		"corruption_classes", len(corruption),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func (s *Service) writeCorruptionSheet(f *excelize.File, counts map[string]int) error {
	const sheet = "Corruption"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	_ = f.SetCellValue(sheet, "A1", "Corruption Class")
	_ = f.SetCellValue(sheet, "B1", "Documents")

	classes := make([]string, 0, len(counts))
	for c := range counts {
		classes = append(classes, c)
	}
	sort.Strings(classes)

	for i, c := range classes {
		_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", i+2), c)
		_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", i+2), counts[c])
	}
	_ = f.SetColWidth(sheet, "A", "A", 24)
	return nil
}
