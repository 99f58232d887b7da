package docext

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// extractExcel renders every sheet of a workbook as tab-separated rows.
func extractExcel(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %q: %w", sheet, err)
		}

		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("SHEET: ")
		sb.WriteString(sheet)
		sb.WriteByte('\n')

		for _, row := range rows {
			if rowEmpty(row) {
				continue
			}
			sb.WriteString(strings.Join(row, "\t"))
			sb.WriteByte('\n')
		}
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("no cell content found in workbook")
	}
	return text, nil
}

func rowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
