package docext

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/extractly-ai/extractly-engine/pkg/apperrors"
)

func TestSupported(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		want     bool
	}{
		{"pdf", "invoice.pdf", true},
		{"pdf uppercase", "INVOICE.PDF", true},
		{"xlsx", "sheet.xlsx", true},
		{"legacy xls", "sheet.xls", true},
		{"docx", "contract.docx", true},
		{"txt", "notes.txt", true},
		{"csv", "data.csv", true},
		{"markdown", "readme.md", true},
		{"image", "scan.png", false},
		{"no extension", "Makefile", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Supported(tt.filename))
		})
	}
}

func TestExtractBatch_PlainText(t *testing.T) {
	e := New(0, zap.NewNop())

	res, err := e.ExtractBatch(context.Background(), []File{
		{Name: "a.txt", Bytes: []byte("hello world\r\n")},
		{Name: "b.csv", Bytes: []byte("name,amount\nwidget,42\n")},
	})
	require.NoError(t, err)
	require.Len(t, res.PerFile, 2)

	assert.Equal(t, "hello world", res.PerFile[0].Text)
	assert.Empty(t, res.PerFile[0].Error)
	assert.Contains(t, res.ExtractedText, "=== Document 1: a.txt ===")
	assert.Contains(t, res.ExtractedText, "=== Document 2: b.csv ===")
	assert.Contains(t, res.ExtractedText, "widget,42")
}

func TestExtractBatch_PerFileErrorIsolation(t *testing.T) {
	e := New(0, zap.NewNop())

	res, err := e.ExtractBatch(context.Background(), []File{
		{Name: "good.txt", Bytes: []byte("kept")},
		{Name: "photo.png", Bytes: []byte{0x89, 0x50}},
		{Name: "also-good.txt", Bytes: []byte("also kept")},
	})
	require.NoError(t, err)
	require.Len(t, res.PerFile, 3)

	assert.Empty(t, res.PerFile[0].Error)
	assert.NotEmpty(t, res.PerFile[1].Error)
	assert.Empty(t, res.PerFile[1].Text)
	assert.Empty(t, res.PerFile[2].Error)

	// The failed file contributes nothing to the combined text.
	assert.Contains(t, res.ExtractedText, "kept")
	assert.NotContains(t, res.ExtractedText, "photo.png")
}

func TestExtractBatch_Empty(t *testing.T) {
	e := New(0, zap.NewNop())
	_, err := e.ExtractBatch(context.Background(), nil)
	assert.Error(t, err)
}

func TestExtractOne_Gates(t *testing.T) {
	e := New(10, zap.NewNop())

	_, err := e.extractOne(File{Name: "scan.tiff", Bytes: []byte("x")})
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedFileType)

	_, err = e.extractOne(File{Name: "big.txt", Bytes: bytes.Repeat([]byte("a"), 11)})
	assert.ErrorIs(t, err, apperrors.ErrFileTooLarge)

	// Unsupported type wins over size for an oversized unknown file.
	_, err = e.extractOne(File{Name: "big.bin", Bytes: bytes.Repeat([]byte("a"), 11)})
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedFileType)
}

func TestExtractExcel(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "item"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "price"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "widget"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", 19.99))

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	text, err := extractExcel(buf.Bytes())
	require.NoError(t, err)
	assert.Contains(t, text, "SHEET: Sheet1")
	assert.Contains(t, text, "item\tprice")
	assert.Contains(t, text, "widget\t19.99")
}

func TestExtractExcel_Invalid(t *testing.T) {
	_, err := extractExcel([]byte("not a workbook"))
	assert.Error(t, err)
}

func TestExtractDocx(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<w:document><w:body>` +
		`<w:p><w:r><w:t>First paragraph</w:t></w:r></w:p>` +
		`<w:p><w:r><w:t>Second &amp; third</w:t></w:r></w:p>` +
		`</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	text, err := extractDocx(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "First paragraph\nSecond & third", text)
}

func TestExtractDocx_MissingDocumentPart(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_, err := zw.Create("word/styles.xml")
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = extractDocx(buf.Bytes())
	assert.Error(t, err)
}

func TestDecodePDFString(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Hello", "Hello"},
		{"escaped parens", `\(x\)`, "(x)"},
		{"newline", `a\nb`, "a\nb"},
		{"octal space", `a\040b`, "a b"},
		{"backslash", `a\\b`, `a\b`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decodePDFString([]byte(tt.in)))
		})
	}
}

func TestCleanPDFText(t *testing.T) {
	assert.Equal(t, "a b c", cleanPDFText("  a\n\nb\t c  "))
	assert.Equal(t, "", cleanPDFText("   \n\t "))
}

func TestExtractTextFromStream(t *testing.T) {
	stream := []byte("BT\n/F1 12 Tf\n(Invoice Number: 42) Tj\nT*\n[(Total) -250 (Due)] TJ\nET\n")
	got := extractTextFromStream(stream)
	assert.Contains(t, got, "Invoice Number: 42")
	assert.Contains(t, got, "TotalDue")
}
