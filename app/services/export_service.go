package services

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/amirphl/creator-console/models"
)

const (
	audienceSheet = "audience"
	summarySheet  = "summary"
	resultsSheet  = "results"
)

// ExportService renders audiences and dispatch outcomes as XLSX workbooks
type ExportService interface {
	ExportAudience(accountID string, records []models.AudienceRecord) (filename string, data []byte, err error)
	ExportDispatchRun(run *models.DispatchRun, results []models.DispatchResult) (filename string, data []byte, err error)
}

type ExportServiceImpl struct{}

func NewExportService() *ExportServiceImpl {
	return &ExportServiceImpl{}
}

// ExportAudience writes one row per record in the order given
func (s *ExportServiceImpl) ExportAudience(accountID string, records []models.AudienceRecord) (string, []byte, error) {
	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	if err := xl.SetSheetName(xl.GetSheetName(0), audienceSheet); err != nil {
		return "", nil, err
	}

	header := []string{"id", "display_name", "handle", "avatar_ref", "source", "attributes", "created_at"}
	if err := xl.SetSheetRow(audienceSheet, "A1", &header); err != nil {
		return "", nil, err
	}

	for i, r := range records {
		avatar := ""
		if r.AvatarRef != nil {
			avatar = *r.AvatarRef
		}
		createdAt := ""
		if !r.CreatedAt.IsZero() {
			createdAt = r.CreatedAt.UTC().Format(time.RFC3339)
		}
		row := []string{
			r.ExternalID,
			r.DisplayName,
			r.Handle,
			avatar,
			string(r.Source),
			formatAttributes(r.Attributes),
			createdAt,
		}
		cellRef, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := xl.SetSheetRow(audienceSheet, cellRef, &row); err != nil {
			return "", nil, err
		}
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return "", nil, fmt.Errorf("failed to write audience workbook: %w", err)
	}
	return fmt.Sprintf("audience_%s.xlsx", sanitizeFileName(accountID)), buf.Bytes(), nil
}

// ExportDispatchRun writes a summary sheet for the run and one results row per attempted recipient
func (s *ExportServiceImpl) ExportDispatchRun(run *models.DispatchRun, results []models.DispatchResult) (string, []byte, error) {
	if run == nil {
		return "", nil, fmt.Errorf("dispatch run is required")
	}

	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	if err := xl.SetSheetName(xl.GetSheetName(0), summarySheet); err != nil {
		return "", nil, err
	}
	if _, err := xl.NewSheet(resultsSheet); err != nil {
		return "", nil, err
	}

	summary := [][]string{
		{"run_id", run.UUID.String()},
		{"account_id", run.AccountID},
		{"status", string(run.Status)},
		{"recipients", fmt.Sprintf("%d", len(run.RecipientIDs))},
		{"sent", fmt.Sprintf("%d", run.SentCount)},
		{"failed", fmt.Sprintf("%d", run.FailedCount)},
		{"not_attempted", fmt.Sprintf("%d", max(len(run.RecipientIDs)-run.SentCount-run.FailedCount, 0))},
		{"template", run.Template},
	}
	for i, row := range summary {
		cellRef, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := xl.SetSheetRow(summarySheet, cellRef, &row); err != nil {
			return "", nil, err
		}
	}

	header := []string{"recipient_id", "outcome", "error_detail", "text", "attempted_at"}
	if err := xl.SetSheetRow(resultsSheet, "A1", &header); err != nil {
		return "", nil, err
	}
	for i, r := range results {
		row := []string{
			r.RecipientID,
			string(r.Outcome),
			r.ErrorDetail,
			r.Text,
			r.AttemptedAt.UTC().Format(time.RFC3339),
		}
		cellRef, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := xl.SetSheetRow(resultsSheet, cellRef, &row); err != nil {
			return "", nil, err
		}
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return "", nil, fmt.Errorf("failed to write dispatch workbook: %w", err)
	}
	return fmt.Sprintf("dispatch_%s.xlsx", run.UUID.String()), buf.Bytes(), nil
}

func formatAttributes(attrs map[string]string) string {
	if len(attrs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+attrs[k])
	}
	return strings.Join(parts, "; ")
}

func sanitizeFileName(name string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_", "\"", "_")
	if safe := replacer.Replace(strings.TrimSpace(name)); safe != "" {
		return safe
	}
	return "account"
}
