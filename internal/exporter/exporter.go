// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package exporter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"
)

// CSVFile describes a written export.
type CSVFile struct {
	FilePath string
	RowCount int
	Size     int64
}

// ParseDelimiter converts a configured delimiter to a rune. "tab" and "\t"
// select a tab.
func ParseDelimiter(s string) (rune, error) {
	switch s {
	case "":
		return ',', nil
	case "tab", `\t`:
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(s)
	if size != len(s) || r == utf8.RuneError || r == '"' || r == '\r' || r == '\n' {
		return 0, fmt.Errorf("invalid CSV delimiter %q", s)
	}
	return r, nil
}

// WriteCSV writes header and rows to path. The data goes to a temporary file
// in the same directory that is renamed over path, so a failed write leaves
// any existing file untouched and no partial output behind.
func WriteCSV(path string, header []string, rows [][]string, delimiter rune) (*CSVFile, error) {
	data, err := rowsToCSVBytes(header, rows, delimiter)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("failed to write CSV: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close CSV: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return nil, fmt.Errorf("failed to set CSV permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return nil, fmt.Errorf("failed to move CSV into place: %w", err)
	}
	committed = true

	return &CSVFile{FilePath: path, RowCount: len(rows), Size: int64(len(data))}, nil
}

// rowsToCSVBytes converts rows to CSV bytes in memory.
func rowsToCSVBytes(header []string, rows [][]string, delimiter rune) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	writer.Comma = delimiter

	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, row := range rows {
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}

	return buf.Bytes(), nil
}
