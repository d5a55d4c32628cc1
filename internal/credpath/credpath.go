// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package credpath

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	appDir   = "SharePointExtractor"
	unixDir  = ".sharepoint_extractor"
	fileName = "credentials.txt"
)

// ErrNotFound is returned by a Prompter when the picked file is absent.
var ErrNotFound = errors.New("credentials file not found")

// ErrCancelled is returned by a Prompter when the user declines to pick a file.
var ErrCancelled = errors.New("credentials selection cancelled")

// Env abstracts the lookups the locator depends on.
type Env struct {
	GOOS    string
	Getenv  func(string) string
	HomeDir func() (string, error)
}

// HostEnv returns the Env of the running process.
func HostEnv() Env {
	return Env{GOOS: runtime.GOOS, Getenv: os.Getenv, HomeDir: os.UserHomeDir}
}

// PathFor returns the canonical credentials path for env. It does not check
// that the file exists.
func PathFor(env Env) string {
	switch env.GOOS {
	case "windows":
		return filepath.Join(env.Getenv("APPDATA"), appDir, fileName)
	case "darwin":
		home, _ := env.HomeDir()
		return filepath.Join(home, "Library", "Application Support", appDir, fileName)
	default:
		home, _ := env.HomeDir()
		return filepath.Join(home, unixDir, fileName)
	}
}

// Path returns the canonical credentials path on this host.
func Path() string {
	return PathFor(HostEnv())
}

// Exists reports whether path is a regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Prompter asks the user for a credentials file.
type Prompter interface {
	Prompt(missing string) (string, error)
}

// LinePrompter asks for a path on a terminal.
type LinePrompter struct {
	In  io.Reader
	Out io.Writer
}

// NewLinePrompter reads the answer from in and writes the question to out.
func NewLinePrompter(in io.Reader, out io.Writer) *LinePrompter {
	return &LinePrompter{In: in, Out: out}
}

// Prompt implements Prompter. Empty input or EOF cancels.
func (p *LinePrompter) Prompt(missing string) (string, error) {
	fmt.Fprintf(p.Out, "Credentials file not found at %s\n", missing)
	fmt.Fprint(p.Out, "Path to credentials.txt (empty to cancel): ")

	line, err := bufio.NewReader(p.In).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	path := strings.Trim(strings.TrimSpace(line), `"'`)
	if path == "" {
		return "", ErrCancelled
	}
	if !Exists(path) {
		return "", fmt.Errorf("%w at %s", ErrNotFound, path)
	}
	return path, nil
}
