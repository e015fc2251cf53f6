// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// UploadPath is the collector endpoint for session parts.
	UploadPath = "/upload"
	// PartHeader marks an upload as one node's share of a session.
	PartHeader    = "Type"
	PartType      = "session_part"
	FileField     = "file"
	SessionField  = "session_name"
	uploadTimeout = 10 * time.Minute
)

// Uploader posts session archives to the collector.
type Uploader struct {
	URL    string
	Client *http.Client
}

// NewUploader targets the collector at base, e.g. http://10.0.0.2:8000.
func NewUploader(base string) *Uploader {
	return &Uploader{
		URL:    strings.TrimRight(base, "/") + UploadPath,
		Client: &http.Client{Timeout: uploadTimeout},
	}
}

// Upload streams archive as a multipart form.
func (u *Uploader) Upload(ctx context.Context, archive, sessionName string) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := mw.WriteField(SessionField, sessionName)
		if err == nil {
			var part io.Writer
			part, err = mw.CreateFormFile(FileField, filepath.Base(archive))
			if err == nil {
				_, err = io.Copy(part, f)
			}
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.URL, pr)
	if err != nil {
		pr.Close()
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(PartHeader, PartType)

	start := time.Now()
	resp, err := u.Client.Do(req)
	if err != nil {
		return fmt.Errorf("upload %s: %w", filepath.Base(archive), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("upload %s: %s: %s", filepath.Base(archive), resp.Status, strings.TrimSpace(string(body)))
	}
	log.Infof("upload: %s sent to %s in %v", filepath.Base(archive), u.URL, time.Since(start).Round(time.Millisecond))
	return nil
}
