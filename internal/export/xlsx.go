package export

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/xuri/excelize/v2"
)

// XLSXWriter implements SheetWriter with a local workbook. The ASSETS sheet
// is rewritten on every call and MONITORING keeps one row per call.
type XLSXWriter struct {
	path string
}

// NewXLSXWriter creates a writer for the workbook at path.
func NewXLSXWriter(path string) *XLSXWriter {
	return &XLSXWriter{path: path}
}

func (w *XLSXWriter) Write(_ context.Context, report Report) error {
	f, err := w.open()
	if err != nil {
		return err
	}
	defer f.Close()

	if err := writeAssetSheet(f, report.Assets); err != nil {
		return err
	}
	if err := appendMonitoringRow(f, report.Monitoring); err != nil {
		return err
	}
	if err := f.SaveAs(w.path); err != nil {
		return fmt.Errorf("saving workbook %s: %w", w.path, err)
	}
	return nil
}

func (w *XLSXWriter) open() (*excelize.File, error) {
	f, err := excelize.OpenFile(w.path)
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("opening workbook %s: %w", w.path, err)
	}

	f = excelize.NewFile()
	if err := f.SetSheetName("Sheet1", "ASSETS"); err != nil {
		f.Close()
		return nil, fmt.Errorf("naming ASSETS sheet: %w", err)
	}
	return f, nil
}

func writeAssetSheet(f *excelize.File, rows []AssetRow) error {
	idx, err := f.GetSheetIndex("ASSETS")
	if err != nil {
		return fmt.Errorf("looking up ASSETS sheet: %w", err)
	}
	if idx >= 0 {
		// Recreate so rows from a longer previous report do not linger.
		if _, err := f.NewSheet("ASSETS_TMP"); err != nil {
			return fmt.Errorf("creating ASSETS sheet: %w", err)
		}
		if err := f.DeleteSheet("ASSETS"); err != nil {
			return fmt.Errorf("clearing ASSETS sheet: %w", err)
		}
		if err := f.SetSheetName("ASSETS_TMP", "ASSETS"); err != nil {
			return fmt.Errorf("renaming ASSETS sheet: %w", err)
		}
	} else if _, err := f.NewSheet("ASSETS"); err != nil {
		return fmt.Errorf("creating ASSETS sheet: %w", err)
	}

	for i, values := range buildAssetSheet(rows) {
		if err := setRow(f, "ASSETS", i+1, values); err != nil {
			return err
		}
	}

	header, err := headerStyle(f)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle("ASSETS", "A1", "M1", header); err != nil {
		return fmt.Errorf("styling ASSETS header: %w", err)
	}
	if err := f.SetPanes("ASSETS", &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("freezing ASSETS header: %w", err)
	}
	if idx, err := f.GetSheetIndex("ASSETS"); err == nil {
		f.SetActiveSheet(idx)
	}
	return nil
}

func appendMonitoringRow(f *excelize.File, row MonitoringRow) error {
	idx, err := f.GetSheetIndex("MONITORING")
	if err != nil {
		return fmt.Errorf("looking up MONITORING sheet: %w", err)
	}
	if idx < 0 {
		if _, err := f.NewSheet("MONITORING"); err != nil {
			return fmt.Errorf("creating MONITORING sheet: %w", err)
		}
	}

	existing, err := f.GetRows("MONITORING")
	if err != nil {
		return fmt.Errorf("reading MONITORING sheet: %w", err)
	}
	next := len(existing) + 1
	if len(existing) == 0 {
		if err := setRow(f, "MONITORING", 1, monitoringHeaders); err != nil {
			return err
		}
		header, err := headerStyle(f)
		if err != nil {
			return err
		}
		if err := f.SetCellStyle("MONITORING", "A1", "I1", header); err != nil {
			return fmt.Errorf("styling MONITORING header: %w", err)
		}
		next = 2
	}
	return setRow(f, "MONITORING", next, row.values())
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("writing %s row %d: %w", sheet, row, err)
	}
	return nil
}

func headerStyle(f *excelize.File) (int, error) {
	// #D9EAD3 light green
	style, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"D9EAD3"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return 0, fmt.Errorf("creating header style: %w", err)
	}
	return style, nil
}
