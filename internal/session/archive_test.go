// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package session

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestPackUnpack(t *testing.T) {
	src := t.TempDir()
	files := map[string]string{
		filepath.Join(MetadataDir, "node1_session_info.yml"): "name: run1\n",
		filepath.Join(RawDir, "sensor_s1"):                    "\x00\x64\x00\xc8",
	}
	for name, body := range files {
		p := filepath.Join(src, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	archive := filepath.Join(t.TempDir(), ArchiveName("run1", "node1"))
	if err := Pack(src, archive); err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if filepath.Base(archive) != "run1_node1.zip" {
		t.Errorf("archive name = %s", filepath.Base(archive))
	}

	f, err := os.Open(archive)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	fi, _ := f.Stat()

	dst := t.TempDir()
	if err := Unpack(f, fi.Size(), dst); err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	for name, body := range files {
		got, err := os.ReadFile(filepath.Join(dst, name))
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != body {
			t.Errorf("%s = %q, want %q", name, got, body)
		}
	}
}

func TestUnpackRejectsEscape(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("../evil")
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte("x"))
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(t.TempDir(), "run1")
	err = Unpack(bytes.NewReader(buf.Bytes()), int64(buf.Len()), dst)
	if !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("err = %v, want ErrInvalidSession", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(dst), "evil")); !os.IsNotExist(err) {
		t.Error("entry written outside the session")
	}
}
