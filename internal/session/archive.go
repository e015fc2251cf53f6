// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package session

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ArchiveName is the file a node uploads for its part of a session.
func ArchiveName(session, controllerID string) string {
	return session + "_" + controllerID + ".zip"
}

// Pack zips the contents of sessionDir into dst, with paths relative to
// sessionDir.
func Pack(sessionDir, dst string) error {
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(f)

	walkErr := filepath.WalkDir(sessionDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(sessionDir, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(w, in)
		in.Close()
		return err
	})
	if err := zw.Close(); walkErr == nil {
		walkErr = err
	}
	if err := f.Close(); walkErr == nil {
		walkErr = err
	}
	if walkErr != nil {
		os.Remove(dst)
	}
	return walkErr
}

// Unpack extracts an archive made by Pack into sessionDir. Entries that
// would land outside sessionDir are rejected.
func Unpack(r io.ReaderAt, size int64, sessionDir string) error {
	zr, err := zip.NewReader(r, size)
	if errors.Is(err, zip.ErrInsecurePath) {
		return fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if err != nil {
		return err
	}
	root, err := filepath.Abs(sessionDir)
	if err != nil {
		return err
	}
	for _, zf := range zr.File {
		target := filepath.Join(root, filepath.FromSlash(zf.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return fmt.Errorf("%w: archive entry %q escapes session", ErrInvalidSession, zf.Name)
		}
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := extract(zf, target); err != nil {
			return err
		}
	}
	return nil
}

func extract(zf *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	in, err := zf.Open()
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
