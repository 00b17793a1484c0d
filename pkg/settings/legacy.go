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

// Package settings parses device settings, session metadata and notes.
package settings

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"miniscope/pkg/device"
	"miniscope/pkg/storage"
)

// settings_and_notes.dat
//
//	animal	excitation	msCamExposure	recordLength
//	mouse1	47	255	1000
//
//	elapsedTime	Note
//	12345	first note
//
// Line 1 and 2 are the settings, the notes table starts on line 4.

// Device names.
const (
	LegacyMicroscopeName = "Miniscope"
	LegacyBehaviorName   = "BehavCam"
)

// Acquisition software generations.
const (
	VersionLegacy = "V3"
	VersionModern = "V4"
)

const legacyNotesStart = 3

// ReadLegacy reads the device settings from settings_and_notes.dat in folder.
func ReadLegacy(folder string) (*device.Metadata, error) {
	path := filepath.Join(folder, storage.LegacySettingsFile)
	lines, err := readTSV(path)
	if err != nil {
		return nil, err
	}
	if len(lines) < 2 {
		return nil, &storage.MalformedFieldError{
			Field: "settings", Value: "", Path: path,
			Err: errors.New("missing settings row"),
		}
	}

	header, row := lines[0], lines[1]
	attrs := map[string]interface{}{
		"version": VersionLegacy,
	}
	for i, key := range header {
		key = strings.TrimSpace(key)
		if key == "" || i >= len(row) || strings.TrimSpace(row[i]) == "" {
			continue
		}
		value, err := device.ParseText(key, row[i])
		if err != nil {
			return nil, withPath(err, path)
		}
		attrs[key] = value
	}

	return device.New(LegacyMicroscopeName, attrs)
}

// ReadLegacyNotes reads the notes table from settings_and_notes.dat.
// Returns nil if there are no notes.
func ReadLegacyNotes(folder string) (*Annotation, error) {
	path := filepath.Join(folder, storage.LegacySettingsFile)
	lines, err := readTSV(path)
	if err != nil {
		return nil, err
	}
	if len(lines) <= legacyNotesStart {
		return nil, nil
	}

	header := lines[legacyNotesStart]
	timeIndex := indexOf(header, "elapsedTime")
	noteIndex := indexOf(header, "Note")
	if timeIndex == -1 || noteIndex == -1 {
		return nil, &storage.MalformedFieldError{
			Field: "notes", Value: strings.Join(header, "\t"), Path: path,
			Err: errors.New("missing elapsedTime or Note column"),
		}
	}

	var notes []Note
	for _, row := range lines[legacyNotesStart+1:] {
		if isBlank(row) {
			continue
		}
		if timeIndex >= len(row) {
			return nil, &storage.MalformedFieldError{Field: "elapsedTime", Value: "", Path: path}
		}
		ms, err := strconv.ParseFloat(strings.TrimSpace(row[timeIndex]), 64)
		if err != nil {
			return nil, &storage.MalformedFieldError{
				Field: "elapsedTime", Value: row[timeIndex], Path: path,
			}
		}

		var text string
		if noteIndex < len(row) {
			text = strings.Join(row[noteIndex:], "\t")
		}
		notes = append(notes, Note{Time: ms / 1000, Text: text})
	}

	if len(notes) == 0 {
		return nil, nil
	}
	return &Annotation{
		Name:        "notes",
		Description: "read from miniscope " + storage.LegacySettingsFile + " file",
		Notes:       notes,
	}, nil
}

// readTSV reads a tab separated file without quoting. Blank lines are kept.
func readTSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &storage.MissingFileError{Path: path}
		}
		return nil, fmt.Errorf("open %v: %w", path, err)
	}
	defer file.Close()

	var lines [][]string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		lines = append(lines, strings.Split(line, "\t"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %v: %w", path, err)
	}
	return lines, nil
}

func withPath(err error, path string) error {
	var e *storage.MalformedFieldError
	if errors.As(err, &e) && e.Path == "" {
		e.Path = path
	}
	return err
}

func indexOf(header []string, name string) int {
	for i, column := range header {
		if strings.TrimSpace(column) == name {
			return i
		}
	}
	return -1
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
