// Copyright 2020-2022 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package timestamps reads per frame capture times.
package timestamps

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"miniscope/pkg/storage"
)

// Series capture times of one stream in seconds.
// The first sample is zero and samples never decrease.
type Series struct {
	// Camera index or stream folder name.
	Stream string `json:"stream"`

	Seconds []float64 `json:"seconds"`

	// Number of samples read from each source file.
	Segments []int `json:"segments"`
}

// Len returns the number of samples.
func (s Series) Len() int {
	return len(s.Seconds)
}

// End returns the last sample, zero if empty.
func (s Series) End() float64 {
	if len(s.Seconds) == 0 {
		return 0
	}
	return s.Seconds[len(s.Seconds)-1]
}

// Shift returns a copy with every sample shifted by seconds.
func (s Series) Shift(seconds float64) Series {
	shifted := make([]float64, len(s.Seconds))
	for i, v := range s.Seconds {
		shifted[i] = v + seconds
	}
	return Series{
		Stream:   s.Stream,
		Seconds:  shifted,
		Segments: append([]int(nil), s.Segments...),
	}
}

// Truncate returns a copy limited to the first n samples.
func (s Series) Truncate(n int) Series {
	if n >= len(s.Seconds) {
		return s
	}
	var segments []int
	remaining := n
	for _, count := range s.Segments {
		if remaining <= 0 {
			break
		}
		if count > remaining {
			count = remaining
		}
		segments = append(segments, count)
		remaining -= count
	}
	return Series{
		Stream:   s.Stream,
		Seconds:  append([]float64(nil), s.Seconds[:n]...),
		Segments: segments,
	}
}

// Concat joins series in order. The stream name is taken from the first named one.
func Concat(series ...Series) Series {
	var out Series
	for _, s := range series {
		if out.Stream == "" {
			out.Stream = s.Stream
		}
		out.Seconds = append(out.Seconds, s.Seconds...)
		out.Segments = append(out.Segments, s.Segments...)
	}
	return out
}

// Legacy timestamp.dat columns.
const (
	cameraColumn = "camNum"
	clockColumn  = "sysClock"
)

// ReadLegacy reads the samples of one camera from timestamp.dat.
// The first sample is forced to zero, the clock origin is meaningless.
// An optional override replaces the timestamp file path.
//
//	camNum	frameNum	sysClock	buffer
//	1	1	4127	1
//	0	1	4131	1
func ReadLegacy(folder string, camera int, override string) (Series, error) {
	path := resolvePath(folder, override, storage.LegacyTimestampFile)
	stream := strconv.Itoa(camera)

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Series{}, &storage.MissingFileError{Path: path}
		}
		return Series{}, fmt.Errorf("open %v: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return Series{}, fmt.Errorf("read %v: %w", path, err)
		}
		return Series{}, &storage.EmptyStreamError{Stream: stream, Path: path}
	}
	header := strings.Split(strings.TrimRight(scanner.Text(), "\r"), "\t")
	cameraIndex := indexOf(header, cameraColumn)
	clockIndex := indexOf(header, clockColumn)
	if cameraIndex == -1 || clockIndex == -1 {
		return Series{}, &storage.MalformedFieldError{
			Field: "header", Value: strings.Join(header, "\t"), Path: path,
			Err: errors.New("missing " + cameraColumn + " or " + clockColumn + " column"),
		}
	}

	var seconds []float64
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		row := strings.Split(line, "\t")
		if cameraIndex >= len(row) || clockIndex >= len(row) {
			return Series{}, &storage.MalformedFieldError{Field: "row", Value: line, Path: path}
		}

		cam, err := parseInt(cameraColumn, row[cameraIndex], path)
		if err != nil {
			return Series{}, err
		}
		if cam != int64(camera) {
			continue
		}
		ms, err := parseInt(clockColumn, row[clockIndex], path)
		if err != nil {
			return Series{}, err
		}
		seconds = append(seconds, float64(ms)/1000)
	}
	if err := scanner.Err(); err != nil {
		return Series{}, fmt.Errorf("read %v: %w", path, err)
	}

	if len(seconds) == 0 {
		return Series{}, &storage.EmptyStreamError{Stream: stream, Path: path}
	}
	seconds[0] = 0
	if err := checkOrder(clockColumn, seconds, path); err != nil {
		return Series{}, err
	}

	return Series{
		Stream:   stream,
		Seconds:  seconds,
		Segments: []int{len(seconds)},
	}, nil
}

// Modern timeStamps.csv column.
const timeStampColumn = "Time Stamp (ms)"

// ReadModern reads every timeStamps*.csv in a stream folder in natural order.
// Samples are rebased so the first one is zero.
// An optional override replaces the timestamp file path.
//
//	Frame Number,Time Stamp (ms),Buffer Index
//	0,0,0
//	1,33,0
func ReadModern(streamFolder string, override string) (Series, error) {
	stream := filepath.Base(streamFolder)
	if !storage.DirExist(streamFolder) {
		return Series{}, &storage.EmptyStreamError{Stream: stream, Path: streamFolder}
	}

	var paths []string
	if override != "" {
		path := resolvePath(streamFolder, override, "")
		if err := storage.RequireFile(path); err != nil {
			return Series{}, err
		}
		paths = []string{path}
	} else {
		var err error
		paths, err = storage.GlobNatural(streamFolder, storage.DefaultModernTimestampGlob)
		if err != nil {
			return Series{}, err
		}
		if len(paths) == 0 {
			return Series{}, &storage.MissingFileError{
				Path: filepath.Join(streamFolder, storage.ModernTimestampFile),
			}
		}
	}

	var millis []float64
	var segments []int
	for _, path := range paths {
		ms, err := readCSV(path)
		if err != nil {
			return Series{}, err
		}
		millis = append(millis, ms...)
		segments = append(segments, len(ms))
	}
	if len(millis) == 0 {
		return Series{}, &storage.EmptyStreamError{Stream: stream, Path: streamFolder}
	}

	seconds := make([]float64, len(millis))
	for i, ms := range millis {
		seconds[i] = (ms - millis[0]) / 1000
	}
	if err := checkOrder(timeStampColumn, seconds, streamFolder); err != nil {
		return Series{}, err
	}

	return Series{
		Stream:   stream,
		Seconds:  seconds,
		Segments: segments,
	}, nil
}

func readCSV(path string) ([]float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %v: %w", path, err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, &storage.MalformedFieldError{Field: "header", Value: "", Path: path, Err: err}
	}

	column := indexOf(header, timeStampColumn)
	if column == -1 {
		if len(header) != 1 {
			return nil, &storage.MalformedFieldError{
				Field: timeStampColumn, Value: strings.Join(header, ","), Path: path,
				Err: errors.New("column not found"),
			}
		}
		column = 0
	}

	var millis []float64
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &storage.MalformedFieldError{Field: "row", Value: "", Path: path, Err: err}
		}
		if column >= len(row) {
			return nil, &storage.MalformedFieldError{
				Field: timeStampColumn, Value: strings.Join(row, ","), Path: path,
			}
		}
		raw := strings.TrimSpace(row[column])
		if raw == "" {
			continue
		}
		ms, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, &storage.MalformedFieldError{
				Field: timeStampColumn, Value: row[column], Path: path,
			}
		}
		millis = append(millis, ms)
	}
	return millis, nil
}

func checkOrder(field string, seconds []float64, path string) error {
	for i := 1; i < len(seconds); i++ {
		if seconds[i] < seconds[i-1] {
			return &storage.MalformedFieldError{
				Field: field,
				Value: strconv.FormatFloat(seconds[i], 'f', -1, 64),
				Path:  path,
				Err:   fmt.Errorf("sample %d decreases", i),
			}
		}
	}
	return nil
}

func parseInt(field string, raw string, path string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, &storage.MalformedFieldError{Field: field, Value: raw, Path: path}
	}
	return v, nil
}

func resolvePath(folder string, override string, name string) string {
	switch {
	case override == "":
		return filepath.Join(folder, name)
	case filepath.IsAbs(override):
		return override
	default:
		return filepath.Join(folder, override)
	}
}

func indexOf(header []string, name string) int {
	for i, column := range header {
		if strings.TrimSpace(column) == name {
			return i
		}
	}
	return -1
}
