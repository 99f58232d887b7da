// Package docext converts uploaded document bytes into plain text for the
// extraction prompt.
//
// Supported formats:
//   - .pdf        — pdfcpu content-stream text extraction
//   - .xlsx/.xls  — excelize, sheet by sheet
//   - .docx       — archive/zip → word/document.xml
//   - .txt/.csv/.md — passthrough with whitespace normalization
//
// Each file in a batch is processed independently: one broken file produces a
// per-file error entry and the batch continues.
package docext

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/extractly-ai/extractly-engine/pkg/apperrors"
)

// DefaultMaxFileSize is the upload ceiling applied when the config does not
// override it.
const DefaultMaxFileSize = 50 * 1024 * 1024 // 50 MB

// File is one uploaded document to extract.
type File struct {
	Name     string
	Size     int64
	MIMEType string
	Bytes    []byte
}

// FileResult is the per-file outcome within a batch.
type FileResult struct {
	Name  string `json:"name"`
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// BatchResult carries the combined text plus per-file results.
type BatchResult struct {
	ExtractedText string       `json:"extracted_text"`
	PerFile       []FileResult `json:"extracted_texts"`
}

// Extractor converts document bytes to text.
type Extractor struct {
	maxFileSize int64
	logger      *zap.Logger
}

// New creates an Extractor. maxFileSize <= 0 selects DefaultMaxFileSize.
func New(maxFileSize int64, logger *zap.Logger) *Extractor {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	return &Extractor{
		maxFileSize: maxFileSize,
		logger:      logger.Named("docext"),
	}
}

// supportedExtensions maps extensions to their extraction functions.
var supportedExtensions = map[string]func([]byte) (string, error){
	".pdf":  extractPDF,
	".xlsx": extractExcel,
	".xls":  extractExcel,
	".docx": extractDocx,
	".txt":  extractPlainText,
	".text": extractPlainText,
	".md":   extractPlainText,
	".csv":  extractPlainText,
}

// Supported reports whether the file name's extension has an extractor.
func Supported(name string) bool {
	_, ok := supportedExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// ExtractBatch extracts text from every file. Unsupported extensions and
// oversized files are rejected before any parsing I/O. A failing file gets an
// error entry; the rest of the batch is unaffected.
func (e *Extractor) ExtractBatch(ctx context.Context, files []File) (*BatchResult, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no files to extract")
	}

	result := &BatchResult{
		PerFile: make([]FileResult, 0, len(files)),
	}

	var combined strings.Builder
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		text, err := e.extractOne(f)
		fr := FileResult{Name: f.Name, Text: text}
		if err != nil {
			fr.Error = err.Error()
			e.logger.Warn("file extraction failed",
				zap.String("file", f.Name),
				zap.Error(err))
		} else {
			e.logger.Debug("file extracted",
				zap.String("file", f.Name),
				zap.Int("chars", len(text)))
		}
		result.PerFile = append(result.PerFile, fr)

		if text == "" {
			continue
		}
		if combined.Len() > 0 {
			combined.WriteString("\n\n")
		}
		// Delimiter lets the prompt compiler attribute values to a
		// document_source.
		combined.WriteString(fmt.Sprintf("=== Document %d: %s ===\n", i+1, f.Name))
		combined.WriteString(text)
	}

	result.ExtractedText = combined.String()
	return result, nil
}

// extractOne runs front-gate checks then dispatches by extension.
func (e *Extractor) extractOne(f File) (string, error) {
	ext := strings.ToLower(filepath.Ext(f.Name))
	extract, ok := supportedExtensions[ext]
	if !ok {
		return "", fmt.Errorf("%w: %q", apperrors.ErrUnsupportedFileType, ext)
	}

	size := f.Size
	if size == 0 {
		size = int64(len(f.Bytes))
	}
	if size > e.maxFileSize {
		return "", fmt.Errorf("%w: %d bytes (max %d)", apperrors.ErrFileTooLarge, size, e.maxFileSize)
	}

	text, err := extract(f.Bytes)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", f.Name, err)
	}
	return text, nil
}

// extractPlainText normalizes line endings and trims trailing whitespace.
func extractPlainText(data []byte) (string, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	return strings.TrimSpace(text), nil
}
