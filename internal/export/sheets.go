package export

import (
	"context"
	"fmt"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	sheets "google.golang.org/api/sheets/v4"
)

// SheetsWriter implements SheetWriter using the Google Sheets API.
type SheetsWriter struct {
	spreadsheetID string
	svc           *sheets.Service
}

// NewSheetsWriter creates a SheetsWriter authenticated with a service account JSON.
func NewSheetsWriter(ctx context.Context, spreadsheetID, credentialsJSON string) (*SheetsWriter, error) {
	creds, err := google.CredentialsFromJSON(
		ctx,
		[]byte(credentialsJSON),
		sheets.SpreadsheetsScope,
	)
	if err != nil {
		return nil, fmt.Errorf("parsing google credentials: %w", err)
	}

	svc, err := sheets.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("creating sheets service: %w", err)
	}

	return &SheetsWriter{spreadsheetID: spreadsheetID, svc: svc}, nil
}

// Write rewrites the ASSETS sheet and appends one MONITORING row.
func (w *SheetsWriter) Write(ctx context.Context, report Report) error {
	if err := w.ensureSheets(ctx, "ASSETS", "MONITORING"); err != nil {
		return err
	}

	_, err := w.svc.Spreadsheets.Values.Clear(
		w.spreadsheetID, "ASSETS!A:M", &sheets.ClearValuesRequest{},
	).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("clearing ASSETS sheet: %w", err)
	}

	_, err = w.svc.Spreadsheets.Values.Update(
		w.spreadsheetID,
		"ASSETS!A1",
		&sheets.ValueRange{Values: buildAssetSheet(report.Assets)},
	).ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("writing ASSETS sheet: %w", err)
	}

	return w.appendMonitoring(ctx, report.Monitoring)
}

// appendMonitoring writes the header row if the sheet is empty, then
// appends the pass summary.
func (w *SheetsWriter) appendMonitoring(ctx context.Context, row MonitoringRow) error {
	existing, err := w.svc.Spreadsheets.Values.Get(
		w.spreadsheetID, "MONITORING!A1:A1",
	).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("reading MONITORING headers: %w", err)
	}

	values := [][]any{row.values()}
	if len(existing.Values) == 0 {
		values = append([][]any{monitoringHeaders}, values...)
	}

	_, err = w.svc.Spreadsheets.Values.Append(
		w.spreadsheetID,
		"MONITORING!A:I",
		&sheets.ValueRange{Values: values},
	).ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("appending MONITORING row: %w", err)
	}
	return nil
}

// ensureSheets creates any of the named sheets that do not already exist.
func (w *SheetsWriter) ensureSheets(ctx context.Context, names ...string) error {
	spreadsheet, err := w.svc.Spreadsheets.Get(w.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("getting spreadsheet metadata: %w", err)
	}

	existing := make(map[string]bool, len(spreadsheet.Sheets))
	for _, s := range spreadsheet.Sheets {
		existing[s.Properties.Title] = true
	}

	var requests []*sheets.Request
	for _, name := range names {
		if !existing[name] {
			requests = append(requests, &sheets.Request{
				AddSheet: &sheets.AddSheetRequest{
					Properties: &sheets.SheetProperties{Title: name},
				},
			})
		}
	}

	if len(requests) == 0 {
		return nil
	}

	_, err = w.svc.Spreadsheets.BatchUpdate(
		w.spreadsheetID,
		&sheets.BatchUpdateSpreadsheetRequest{Requests: requests},
	).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("creating sheets: %w", err)
	}

	return nil
}
