// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// QuoteIdent quotes a MySQL identifier.
func QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// ColumnNames maps fields to usable column names. Empty or repeated names
// become column_<position>.
func ColumnNames(fields []string) []string {
	seen := make(map[string]bool, len(fields))
	names := make([]string, len(fields))
	for i, f := range fields {
		name := f
		if name == "" || seen[strings.ToLower(name)] {
			name = fmt.Sprintf("column_%d", i+1)
		}
		seen[strings.ToLower(name)] = true
		names[i] = name
	}
	return names
}

// CreateTableSQL returns the DDL for a mirror table with one TEXT column per
// field and a unique hash over the whole row.
func CreateTableSQL(table string, columns []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", QuoteIdent(table))
	b.WriteString("\tid BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,\n")
	for _, c := range columns {
		fmt.Fprintf(&b, "\t%s TEXT NULL,\n", QuoteIdent(c))
	}
	b.WriteString("\trow_hash CHAR(64) NOT NULL,\n")
	b.WriteString("\tUNIQUE KEY uq_row_hash (row_hash)\n")
	b.WriteString(") DEFAULT CHARSET=utf8mb4")
	return b.String()
}

// InsertSQL returns the INSERT IGNORE statement for a mirror table.
func InsertSQL(table string, columns []string) string {
	quoted := make([]string, 0, len(columns)+1)
	for _, c := range columns {
		quoted = append(quoted, QuoteIdent(c))
	}
	quoted = append(quoted, "row_hash")
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(quoted)), ", ")
	return fmt.Sprintf("INSERT IGNORE INTO %s (%s) VALUES (%s)",
		QuoteIdent(table), strings.Join(quoted, ", "), placeholders)
}

// RowHash identifies a row by the values of all its cells.
func RowHash(row []string) string {
	h := sha256.New()
	for _, cell := range row {
		h.Write([]byte(cell))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// MirrorRows creates table when needed and inserts rows, skipping rows
// already present. It returns the number of inserted rows.
func (sc *SQLClient) MirrorRows(ctx context.Context, table string, columns []string, rows [][]string, logger *zap.Logger) (int64, error) {
	if len(columns) == 0 {
		return 0, fmt.Errorf("no columns to mirror")
	}
	columns = ColumnNames(columns)

	if _, err := sc.db.ExecContext(ctx, CreateTableSQL(table, columns)); err != nil {
		return 0, fmt.Errorf("failed to create table %s: %w", table, err)
	}

	tx, err := sc.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, InsertSQL(table, columns))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	args := make([]interface{}, len(columns)+1)
	for i, row := range rows {
		if len(row) != len(columns) {
			return 0, fmt.Errorf("row %d has %d cells, want %d", i, len(row), len(columns))
		}
		for j, cell := range row {
			args[j] = cell
		}
		args[len(columns)] = RowHash(row)

		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return 0, fmt.Errorf("failed to insert row %d: %w", i, err)
		}
		n, _ := res.RowsAffected()
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}

	logger.Info("Rows mirrored to MySQL",
		zap.String("table", table),
		zap.Int("rows", len(rows)),
		zap.Int64("inserted", inserted))
	return inserted, nil
}
