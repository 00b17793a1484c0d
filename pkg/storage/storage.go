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

// Package storage describes the on-disk acquisition layout.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/maruel/natural"
)

// Well known file names.
const (
	LegacySettingsFile   = "settings_and_notes.dat"
	LegacyTimestampFile  = "timestamp.dat"
	ModernMetadataFile   = "metaData.json"
	ModernTimestampFile  = "timeStamps.csv"
	ModernNotesFile      = "notes.csv"
	modernTimestampGlob  = "timeStamps*.csv"
	legacyMicroscopeGlob = "msCam*.avi"
	legacyBehaviorGlob   = "behavCam*.avi"
)

// Default file patterns.
const (
	DefaultModernTimestampGlob  = modernTimestampGlob
	DefaultLegacyMicroscopeGlob = legacyMicroscopeGlob
	DefaultLegacyBehaviorGlob   = legacyBehaviorGlob
	DefaultModernVideoGlob      = "*.avi"
)

// SortNatural returns a copy of paths ordered by the embedded
// integers of their base names, "2.avi" sorts before "10.avi".
func SortNatural(paths []string) []string {
	sorted := make([]string, len(paths))
	copy(sorted, paths)

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := filepath.Base(sorted[i]), filepath.Base(sorted[j])
		if a == b {
			return natural.Less(sorted[i], sorted[j])
		}
		return natural.Less(a, b)
	})
	return sorted
}

// GlobNatural returns the regular files in dir matching
// pattern in natural order. Directories are ignored.
func GlobNatural(dir string, pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("glob %v: %w", pattern, err)
	}

	var files []string
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil || info.IsDir() {
			continue
		}
		files = append(files, match)
	}
	return SortNatural(files), nil
}

// RequireFile returns MissingFileError if path isn't a regular file.
func RequireFile(path string) error {
	if !FileExist(path) {
		return &MissingFileError{Path: path}
	}
	return nil
}

// FileExist returns true if path is a regular file.
func FileExist(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// DirExist returns true if path is a directory.
func DirExist(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
