package export

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/iwsa-dev/iwsa/internal/types"
)

// SheetsExporter pushes rows to a Google Sheets spreadsheet via a
// service account. Spreadsheets are reused by name across runs.
type SheetsExporter struct {
	credsB64  string
	shareWith string
	now       func() time.Time
	logger    *slog.Logger

	newServices func(ctx context.Context, creds []byte) (*sheets.Service, *drive.Service, error)
}

func NewSheetsExporter(credsB64, shareWith string, logger *slog.Logger) *SheetsExporter {
	return &SheetsExporter{
		credsB64:    credsB64,
		shareWith:   shareWith,
		now:         time.Now,
		logger:      logger.With("component", "export.sheets"),
		newServices: newGoogleServices,
	}
}

func (e *SheetsExporter) Name() string { return "google_sheets" }

func newGoogleServices(ctx context.Context, credsJSON []byte) (*sheets.Service, *drive.Service, error) {
	creds, err := google.CredentialsFromJSON(ctx, credsJSON, sheets.SpreadsheetsScope, drive.DriveScope)
	if err != nil {
		return nil, nil, fmt.Errorf("service account credentials: %w", err)
	}
	sheetsSvc, err := sheets.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, nil, fmt.Errorf("sheets service: %w", err)
	}
	driveSvc, err := drive.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, nil, fmt.Errorf("drive service: %w", err)
	}
	return sheetsSvc, driveSvc, nil
}

func (e *SheetsExporter) Export(ctx context.Context, rows []*types.Row, meta Metadata) *Result {
	start := time.Now()
	res := &Result{Exporter: e.Name()}
	fail := func(err error) *Result {
		res.Error = err.Error()
		res.Elapsed = time.Since(start)
		return res
	}

	if len(rows) == 0 {
		return fail(fmt.Errorf("no rows to export"))
	}
	if e.credsB64 == "" {
		return fail(fmt.Errorf("spreadsheet credentials not configured"))
	}
	creds, err := base64.StdEncoding.DecodeString(e.credsB64)
	if err != nil {
		return fail(fmt.Errorf("decode credentials: %w", err))
	}

	sheetsSvc, driveSvc, err := e.newServices(ctx, creds)
	if err != nil {
		return fail(err)
	}

	name := meta.SpreadsheetName
	if name == "" {
		source := meta.SourceDomain
		if source == "" {
			source = "scraped_data"
		}
		name = fmt.Sprintf("IWSA_%s_%s", source, e.now().Format("2006-01-02_15-04-05"))
	}

	spreadsheetID, created, err := e.findOrCreateSpreadsheet(ctx, sheetsSvc, driveSvc, name)
	if err != nil {
		return fail(err)
	}
	if created && e.shareWith != "" {
		if err := e.share(ctx, driveSvc, spreadsheetID); err != nil {
			// Sharing failure leaves the data intact, so log and continue.
			e.logger.Warn("spreadsheet share failed", "spreadsheet_id", spreadsheetID, "error", err)
		}
	}

	prepared := prepareRows(rows)
	cols := columnOrder(prepared)

	values := make([][]any, 0, len(prepared)+1)
	header := make([]any, len(cols))
	for i, col := range cols {
		header[i] = col
	}
	values = append(values, header)
	for _, row := range prepared {
		flat := row.ToFlatMap()
		record := make([]any, len(cols))
		for i, col := range cols {
			record[i] = flat[col]
		}
		values = append(values, record)
	}

	if _, err := sheetsSvc.Spreadsheets.Values.Clear(spreadsheetID, excelSheetName, &sheets.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return fail(fmt.Errorf("clear sheet: %w", err))
	}
	_, err = sheetsSvc.Spreadsheets.Values.Update(spreadsheetID, excelSheetName+"!A1", &sheets.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return fail(fmt.Errorf("write values: %w", err))
	}

	if err := e.formatHeader(ctx, sheetsSvc, spreadsheetID); err != nil {
		e.logger.Warn("header formatting failed", "spreadsheet_id", spreadsheetID, "error", err)
	}

	res.Success = true
	res.Destination = "https://docs.google.com/spreadsheets/d/" + spreadsheetID
	res.Records = len(prepared)
	res.Elapsed = time.Since(start)
	e.logger.Info("sheets export complete", "spreadsheet", name, "records", res.Records)
	return res
}

// findOrCreateSpreadsheet reuses an existing spreadsheet with the given
// name, creating one with a "Scraped Data" sheet when none exists.
func (e *SheetsExporter) findOrCreateSpreadsheet(ctx context.Context, sheetsSvc *sheets.Service, driveSvc *drive.Service, name string) (string, bool, error) {
	query := fmt.Sprintf("name = '%s' and mimeType = 'application/vnd.google-apps.spreadsheet' and trashed = false", name)
	list, err := driveSvc.Files.List().Q(query).Fields("files(id)").PageSize(1).Context(ctx).Do()
	if err != nil {
		return "", false, fmt.Errorf("search spreadsheet: %w", err)
	}
	if len(list.Files) > 0 {
		return list.Files[0].Id, false, nil
	}

	created, err := sheetsSvc.Spreadsheets.Create(&sheets.Spreadsheet{
		Properties: &sheets.SpreadsheetProperties{Title: name},
		Sheets: []*sheets.Sheet{
			{Properties: &sheets.SheetProperties{Title: excelSheetName}},
		},
	}).Context(ctx).Do()
	if err != nil {
		return "", false, fmt.Errorf("create spreadsheet: %w", err)
	}
	return created.SpreadsheetId, true, nil
}

func (e *SheetsExporter) share(ctx context.Context, driveSvc *drive.Service, spreadsheetID string) error {
	_, err := driveSvc.Permissions.Create(spreadsheetID, &drive.Permission{
		Type:         "user",
		Role:         "writer",
		EmailAddress: e.shareWith,
	}).SendNotificationEmail(false).Context(ctx).Do()
	return err
}

// formatHeader bolds and shades the first row and freezes it.
func (e *SheetsExporter) formatHeader(ctx context.Context, sheetsSvc *sheets.Service, spreadsheetID string) error {
	meta, err := sheetsSvc.Spreadsheets.Get(spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return err
	}
	var sheetID int64 = -1
	for _, s := range meta.Sheets {
		if s.Properties != nil && s.Properties.Title == excelSheetName {
			sheetID = s.Properties.SheetId
			break
		}
	}
	if sheetID < 0 {
		return fmt.Errorf("sheet %q not found", excelSheetName)
	}

	gray := 204.0 / 255.0
	_, err = sheetsSvc.Spreadsheets.BatchUpdate(spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{
			{
				RepeatCell: &sheets.RepeatCellRequest{
					Range: &sheets.GridRange{SheetId: sheetID, StartRowIndex: 0, EndRowIndex: 1},
					Cell: &sheets.CellData{
						UserEnteredFormat: &sheets.CellFormat{
							TextFormat:      &sheets.TextFormat{Bold: true},
							BackgroundColor: &sheets.Color{Red: gray, Green: gray, Blue: gray},
						},
					},
					Fields: "userEnteredFormat(textFormat,backgroundColor)",
				},
			},
			{
				UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
					Properties: &sheets.SheetProperties{
						SheetId:        sheetID,
						GridProperties: &sheets.GridProperties{FrozenRowCount: 1},
					},
					Fields: "gridProperties.frozenRowCount",
				},
			},
		},
	}).Context(ctx).Do()
	return err
}
