// Package scratch hands out per-request working directories for staging the
// downloaded photo and the processed result. Each Workspace is unique, so
// concurrent requests never share files, and Close removes it entirely.
package scratch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const prefix = "rmbg-"

const (
	inputName  = "input_photo"
	outputName = "no_bg_photo.png"
)

type Workspace struct {
	dir string
}

// New creates a fresh workspace under root. root is created if missing.
func New(root, requestID string) (*Workspace, error) {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("scratch root: %w", err)
	}
	dir, err := os.MkdirTemp(root, prefix+requestID+"-")
	if err != nil {
		return nil, fmt.Errorf("scratch dir: %w", err)
	}
	return &Workspace{dir: dir}, nil
}

func (w *Workspace) Dir() string { return w.dir }

// InputPath is where the inbound photo is staged. ext includes the dot,
// e.g. ".jpg"; empty means no extension.
func (w *Workspace) InputPath(ext string) string {
	return filepath.Join(w.dir, inputName+ext)
}

func (w *Workspace) OutputPath() string {
	return filepath.Join(w.dir, outputName)
}

// WriteOutput stores the processed image and returns its path.
func (w *Workspace) WriteOutput(data []byte) (string, error) {
	p := w.OutputPath()
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return "", fmt.Errorf("write output: %w", err)
	}
	return p, nil
}

// Close removes the workspace and everything in it. Safe to call twice.
func (w *Workspace) Close() error {
	if w == nil || w.dir == "" {
		return nil
	}
	err := os.RemoveAll(w.dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Sweep removes workspaces under root last modified before now-olderThan.
// These are left behind only when a process dies mid-request.
func Sweep(root string, olderThan time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	cutoff := now.Add(-olderThan)
	removed := 0
	var errs []error
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
