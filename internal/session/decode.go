// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package session

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/imu_capture/internal/imu"
)

// DecodeResult is the outcome for one sensor.
type DecodeResult struct {
	SensorID string `json:"sensor_id"`
	Output   string `json:"output,omitempty"`
	Rows     int    `json:"rows"`
	Err      error  `json:"-"`
}

// CSVName is the decoded file of a raw file.
func CSVName(rawFile string) string { return rawFile + ".csv" }

// DecodeDir decodes every sensor of a merged session. A failing sensor
// does not stop the others; check each result's Err.
func DecodeDir(sessionDir string) ([]DecodeResult, error) {
	m, err := LoadManifest(sessionDir)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(m.Sensors))
	for id := range m.Sensors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	results := make([]DecodeResult, 0, len(ids))
	for _, id := range ids {
		res := DecodeSensor(sessionDir, m, id)
		if res.Err != nil {
			log.Errorf("session %s: decode %s: %v", m.Name, id, res.Err)
		} else {
			log.Debugf("session %s: decoded %s, %d rows", m.Name, id, res.Rows)
		}
		results = append(results, res)
	}
	return results, nil
}

// DecodeSensor converts the cropped window of one raw file into a CSV file
// next to the session's metadata directory.
func DecodeSensor(sessionDir string, m *Manifest, id string) DecodeResult {
	res := DecodeResult{SensorID: id}
	meta, ok := m.Sensors[id]
	if !ok {
		res.Err = fmt.Errorf("%w: sensor %s not in manifest", ErrMalformedManifest, id)
		return res
	}
	lanes := meta.Lanes()
	pl := meta.PackageLength
	if pl != lanes.PackageLength() {
		res.Err = fmt.Errorf("%w: %s records %d bytes per package, lanes need %d",
			imu.ErrLaneMismatch, id, pl, lanes.PackageLength())
		return res
	}
	rawFile := m.Files[id]
	if rawFile == "" {
		rawFile = RawFileName(id)
	}
	rawPath := filepath.Join(sessionDir, RawDir, rawFile)

	info, err := os.Stat(rawPath)
	if err != nil {
		res.Err = err
		return res
	}
	crop, ok := m.Crops[id]
	if !ok {
		res.Err = fmt.Errorf("%w: %s has no crop window", ErrMalformedManifest, id)
		return res
	}
	if pl == 0 {
		if info.Size() != 0 {
			res.Err = fmt.Errorf("%w: %s has no lanes but %d bytes", ErrMalformedRaw, id, info.Size())
			return res
		}
	} else if info.Size()%int64(pl) != 0 {
		res.Err = fmt.Errorf("%w: %s is %d bytes, not a multiple of %d", ErrMalformedRaw, id, info.Size(), pl)
		return res
	} else if total := int(info.Size() / int64(pl)); crop.Start() < 0 || crop.End() < crop.Start() || crop.End() > total {
		res.Err = fmt.Errorf("%w: %s crop %v outside %d packages", ErrMalformedRaw, id, crop, total)
		return res
	}

	out := filepath.Join(sessionDir, CSVName(rawFile))
	rows, err := writeCSV(rawPath, out, crop, lanes, meta.AccelFactor, meta.GyroFactor)
	if err != nil {
		res.Err = err
		return res
	}
	res.Output = out
	res.Rows = rows
	return res
}

func writeCSV(rawPath, out string, crop Crop, lanes imu.Lanes, af, gf float64) (int, error) {
	in, err := os.Open(rawPath)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	pl := lanes.PackageLength()
	if _, err := in.Seek(int64(crop.Start()*pl), io.SeekStart); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(out), ".decode-*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	w := csv.NewWriter(bw)
	if err := w.Write(lanes.Columns()); err != nil {
		_ = tmp.Close()
		return 0, err
	}

	r := bufio.NewReader(in)
	pkg := make([]byte, pl)
	record := make([]string, 0, len(lanes.Columns()))
	var values []float64
	for i := 0; i < crop.Len(); i++ {
		if _, err := io.ReadFull(r, pkg); err != nil {
			_ = tmp.Close()
			return 0, fmt.Errorf("%w: package %d: %v", ErrMalformedRaw, crop.Start()+i, err)
		}
		values, err = imu.Decode(values[:0], pkg, lanes, af, gf)
		if err != nil {
			_ = tmp.Close()
			return 0, err
		}
		record = record[:0]
		for _, v := range values {
			record = append(record, strconv.FormatFloat(v, 'f', -1, 64))
		}
		if err := w.Write(record); err != nil {
			_ = tmp.Close()
			return 0, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = tmp.Close()
		return 0, err
	}
	if err := bw.Flush(); err != nil {
		_ = tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	return crop.Len(), os.Rename(tmp.Name(), out)
}
