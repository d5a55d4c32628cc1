// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package secrets

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"github.com/netSkope/sharepoint-extractor/internal/errs"
	"go.uber.org/zap"
)

// DefaultEnvFile is the generated configuration file consumed by later stages.
const DefaultEnvFile = ".env"

// Result describes one load of a credentials file.
type Result struct {
	Values   map[string]string // accepted pairs, later duplicates win
	Accepted int               // accepted lines, duplicates included
	Skipped  int               // malformed lines
	EnvFile  string            // generated file path
}

// Parse reads KEY=VALUE lines from src. Blank lines and '#' comments are
// ignored; malformed lines are logged and counted but never fatal.
func Parse(src string, logger *zap.Logger) (*Result, error) {
	file, err := os.Open(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Error("Credentials file not found", zap.String("path", src))
		}
		return nil, errs.Wrap(errs.ErrIO, "open credentials file", err)
	}
	defer file.Close()

	res := &Result{Values: make(map[string]string)}
	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if lineNo == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			// Only the line number is logged: the line may hold a secret.
			logger.Warn("Invalid credentials line skipped", zap.Int("line", lineNo))
			res.Skipped++
			continue
		}

		res.Values[key] = strings.TrimSpace(value)
		res.Accepted++
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrIO, "read credentials file", err)
	}

	return res, nil
}

// Load parses src and overwrites dst with the accepted pairs. The output is
// sorted by key so loading the same source twice yields identical bytes.
func Load(src, dst string, logger *zap.Logger) (*Result, error) {
	if dst == "" {
		dst = DefaultEnvFile
	}

	logger.Info("Loading credentials", zap.String("path", src))

	res, err := Parse(src, logger)
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(dst, []byte(Marshal(res.Values)), 0600); err != nil {
		return nil, errs.Wrap(errs.ErrIO, fmt.Sprintf("write env file %s", dst), err)
	}
	res.EnvFile = dst

	logger.Info("Env file updated with credentials",
		zap.String("env_file", dst),
		zap.Int("accepted", res.Accepted),
		zap.Int("skipped", res.Skipped))

	return res, nil
}

// Marshal renders values in the quoted dotenv format godotenv.Read accepts.
// godotenv.Marshal is not used because it rewrites integer-looking values
// ("007" becomes 7), which corrupts identifiers.
func Marshal(values map[string]string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(`="`)
		b.WriteString(escaper.Replace(values[k]))
		b.WriteString("\"\n")
	}
	return b.String()
}

// escaper mirrors the characters godotenv escapes inside double quotes.
var escaper = strings.NewReplacer(
	`\`, `\\`,
	"\n", `\n`,
	"\r", `\r`,
	`"`, `\"`,
	"!", `\!`,
	"$", `\$`,
	"`", "\\`",
)

// Read parses a generated env file back into a map.
func Read(path string) (map[string]string, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, errs.Wrap(errs.ErrIO, fmt.Sprintf("read env file %s", path), err)
	}
	return values, nil
}

// Remove deletes a generated env file. Failures are logged only.
func Remove(path string, logger *zap.Logger) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("Failed to remove generated env file",
			zap.String("env_file", path),
			zap.Error(err))
		return
	}
	logger.Debug("Removed generated env file", zap.String("env_file", path))
}
