// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/netSkope/sharepoint-extractor/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

const wellFormed = `# tenant settings
CLIENT_ID = abc
CLIENT_SECRET=s3cr=t!$HOME

TENANT_ID=0042
SHAREPOINT_SITE_NAME=  Faculty Site  
`

func TestLoad_IdempotentReload(t *testing.T) {
	src := writeFile(t, "credentials.txt", wellFormed)
	dst := filepath.Join(t.TempDir(), ".env")
	logger := zaptest.NewLogger(t)

	_, err := Load(src, dst, logger)
	require.NoError(t, err)
	first, err := os.ReadFile(dst)
	require.NoError(t, err)

	_, err = Load(src, dst, logger)
	require.NoError(t, err)
	second, err := os.ReadFile(dst)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestLoad_RoundTripsThroughGodotenv(t *testing.T) {
	src := writeFile(t, "credentials.txt", wellFormed)
	dst := filepath.Join(t.TempDir(), ".env")

	res, err := Load(src, dst, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 4, res.Accepted)
	assert.Equal(t, dst, res.EnvFile)

	values, err := Read(dst)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"CLIENT_ID":            "abc",
		"CLIENT_SECRET":        "s3cr=t!$HOME",
		"TENANT_ID":            "0042",
		"SHAREPOINT_SITE_NAME": "Faculty Site",
	}, values)
}

func TestLoad_MalformedLinesAreSkipped(t *testing.T) {
	src := writeFile(t, "credentials.txt", "A=1\nnot a pair\nB=2\n=orphan\nC=3\nstill bad\n")
	dst := filepath.Join(t.TempDir(), ".env")

	core, logs := observer.New(zapcore.InfoLevel)
	res, err := Load(src, dst, zap.New(core))
	require.NoError(t, err)

	assert.Equal(t, 3, res.Accepted)
	assert.Equal(t, 3, res.Skipped)
	assert.Len(t, res.Values, 3)
	assert.Equal(t, 3, logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestParse_EmptyKeyIsMalformed(t *testing.T) {
	src := writeFile(t, "credentials.txt", "=value\n  = spaced\nA=1\n")

	res, err := Parse(src, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"A": "1"}, res.Values)
	assert.Equal(t, 2, res.Skipped)
	assert.NotContains(t, res.Values, "")
}

func TestLoad_OverwritesPreviousSnapshot(t *testing.T) {
	dst := filepath.Join(t.TempDir(), ".env")
	logger := zaptest.NewLogger(t)

	_, err := Load(writeFile(t, "a.txt", "OLD=1\n"), dst, logger)
	require.NoError(t, err)
	_, err = Load(writeFile(t, "b.txt", "NEW=2\n"), dst, logger)
	require.NoError(t, err)

	values, err := Read(dst)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"NEW": "2"}, values)
}

func TestLoad_MissingSource(t *testing.T) {
	dst := filepath.Join(t.TempDir(), ".env")

	_, err := Load(filepath.Join(t.TempDir(), "absent.txt"), dst, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrIO)

	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr), "destination must not be created")
}

func TestLoad_EmptySourceSucceeds(t *testing.T) {
	src := writeFile(t, "credentials.txt", "# nothing yet\n\n")
	dst := filepath.Join(t.TempDir(), ".env")

	res, err := Load(src, dst, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Zero(t, res.Accepted)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestRemove(t *testing.T) {
	path := writeFile(t, ".env", "A=\"1\"\n")
	logger := zaptest.NewLogger(t)

	Remove(path, logger)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Removing again is a no-op.
	Remove(path, logger)
}
