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

package settings

import (
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

// Annotation free text notes and their capture times.
type Annotation struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Notes       []Note `json:"notes"`
}

// Note single note.
type Note struct {
	Text string  `json:"text"`
	Time float64 `json:"time"` // Seconds.
}

// Shift returns a copy with all note times shifted by seconds.
func (a *Annotation) Shift(seconds float64) *Annotation {
	notes := make([]Note, len(a.Notes))
	for i, note := range a.Notes {
		notes[i] = Note{Text: note.Text, Time: note.Time + seconds}
	}
	return &Annotation{
		Name:        a.Name,
		Description: a.Description,
		Notes:       notes,
	}
}

// ConcatAnnotations merges annotations in order, nil entries are skipped.
// Returns nil if there are no notes.
func ConcatAnnotations(annotations ...*Annotation) *Annotation {
	var out *Annotation
	for _, a := range annotations {
		if a == nil || len(a.Notes) == 0 {
			continue
		}
		if out == nil {
			out = &Annotation{Name: a.Name, Description: a.Description}
		}
		out.Notes = append(out.Notes, a.Notes...)
	}
	return out
}

// Modern notes column names.
const (
	timeStampColumn = "Time Stamp (ms)"
	noteColumn      = "Note"
)

// ReadModernNotes reads notes.csv in a session folder.
// Returns nil if the file doesn't exist or is empty.
//
//	Time Stamp (ms),Note
//	1520,lick
func ReadModernNotes(sessionFolder string) (*Annotation, error) {
	path := filepath.Join(sessionFolder, storage.ModernNotesFile)
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %v: %w", path, err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, &storage.MalformedFieldError{Field: "header", Value: "", Path: path, Err: err}
	}

	timeIndex := indexOf(header, timeStampColumn)
	noteIndex := indexOf(header, noteColumn)
	if timeIndex == -1 || noteIndex == -1 {
		return nil, &storage.MalformedFieldError{
			Field: "header", Value: strings.Join(header, ","), Path: path,
			Err: errors.New("missing " + timeStampColumn + " or " + noteColumn + " column"),
		}
	}

	var notes []Note
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &storage.MalformedFieldError{Field: "row", Value: "", Path: path, Err: err}
		}
		if isBlank(row) {
			continue
		}
		if timeIndex >= len(row) {
			return nil, &storage.MalformedFieldError{Field: timeStampColumn, Value: "", Path: path}
		}

		ms, err := strconv.ParseFloat(strings.TrimSpace(row[timeIndex]), 64)
		if err != nil {
			return nil, &storage.MalformedFieldError{
				Field: timeStampColumn, Value: row[timeIndex], Path: path,
			}
		}
		var text string
		if noteIndex < len(row) {
			text = row[noteIndex]
		}
		notes = append(notes, Note{Time: ms / 1000, Text: text})
	}

	if len(notes) == 0 {
		return nil, nil
	}
	return &Annotation{
		Name:        "notes",
		Description: "read from miniscope " + storage.ModernNotesFile + " file",
		Notes:       notes,
	}, nil
}
