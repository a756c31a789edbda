package sheets

import (
	"context"
	"fmt"

	gsheets "google.golang.org/api/sheets/v4"
)

// valuesAPI is the subset of the Sheets API the client uses.
type valuesAPI interface {
	Get(ctx context.Context, spreadsheet, rng string) ([][]string, error)
	Append(ctx context.Context, spreadsheet, rng string, row []string) error
	DeleteRow(ctx context.Context, spreadsheet string, sheetID int64, row int) error
	SheetID(ctx context.Context, spreadsheet, tab string) (int64, error)
}

// serviceAPI implements valuesAPI over the generated Sheets v4 client.
type serviceAPI struct {
	svc *gsheets.Service
}

func (a serviceAPI) Get(ctx context.Context, spreadsheet, rng string) ([][]string, error) {
	resp, err := a.svc.Spreadsheets.Values.Get(spreadsheet, rng).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	rows := make([][]string, len(resp.Values))
	for i, r := range resp.Values {
		rows[i] = make([]string, len(r))
		for j, v := range r {
			rows[i][j] = fmt.Sprint(v)
		}
	}
	return rows, nil
}

func (a serviceAPI) Append(ctx context.Context, spreadsheet, rng string, row []string) error {
	values := make([]interface{}, len(row))
	for i, v := range row {
		values[i] = v
	}
	_, err := a.svc.Spreadsheets.Values.Append(spreadsheet, rng, &gsheets.ValueRange{
		Values: [][]interface{}{values},
	}).ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	return err
}

// DeleteRow removes the 1-based row of the sheet.
func (a serviceAPI) DeleteRow(ctx context.Context, spreadsheet string, sheetID int64, row int) error {
	req := &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{{
			DeleteDimension: &gsheets.DeleteDimensionRequest{
				Range: &gsheets.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "ROWS",
					StartIndex: int64(row - 1),
					EndIndex:   int64(row),
					// The first tab has id 0, which is otherwise omitted.
					ForceSendFields: []string{"SheetId", "StartIndex"},
				},
			},
		}},
	}
	_, err := a.svc.Spreadsheets.BatchUpdate(spreadsheet, req).Context(ctx).Do()
	return err
}

func (a serviceAPI) SheetID(ctx context.Context, spreadsheet, tab string) (int64, error) {
	ss, err := a.svc.Spreadsheets.Get(spreadsheet).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, err
	}
	for _, s := range ss.Sheets {
		if s.Properties != nil && s.Properties.Title == tab {
			return s.Properties.SheetId, nil
		}
	}
	return 0, fmt.Errorf("tab %q not found", tab)
}
