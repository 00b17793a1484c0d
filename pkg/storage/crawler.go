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

package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// Modern recordings are stored in the following format
//
// <Root>
// └── <Date>                        // Optional.
//     └── <Time>                    // Session.
//         ├── metaData.json         // Session start time and stream names.
//         ├── notes.csv             // Optional.
//         ├── Miniscope
//         │   ├── metaData.json     // Device settings.
//         │   ├── timeStamps.csv
//         │   ├── 0.avi
//         │   └── 1.avi
//         └── BehavCam 2
//             ├── metaData.json
//             ├── timeStamps.csv
//             └── 0.avi
//
// Legacy recordings are flat
//
// <Root>
// ├── settings_and_notes.dat
// ├── timestamp.dat
// ├── msCam1.avi
// └── behavCam1.avi

// Crawler crawls through a recording folder looking for session directories.
type Crawler struct {
	path string
}

// NewCrawler creates new crawler.
func NewCrawler(path string) *Crawler {
	return &Crawler{
		path: path,
	}
}

type dir struct {
	name  string
	path  string
	depth int
}

// children returns sub directories in natural order.
func (d dir) children() ([]dir, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, fmt.Errorf("read directory %v: %w", d.path, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			paths = append(paths, filepath.Join(d.path, entry.Name()))
		}
	}

	var children []dir
	for _, path := range SortNatural(paths) {
		children = append(children, dir{
			name:  filepath.Base(path),
			path:  path,
			depth: d.depth + 1,
		})
	}
	return children, nil
}

func (d dir) contains(name string) bool {
	return FileExist(filepath.Join(d.path, name))
}

// DirsContaining returns the directories below the root, at most maxDepth
// levels deep, that contain a file called name. The search doesn't descend
// into a matched directory. Results are in natural depth first order.
func (c *Crawler) DirsContaining(name string, maxDepth int) ([]string, error) {
	root := dir{path: c.path}

	var found []string
	var walk func(d dir) error
	walk = func(d dir) error {
		if d.depth >= maxDepth {
			return nil
		}
		children, err := d.children()
		if err != nil {
			return err
		}
		for _, child := range children {
			if child.contains(name) {
				found = append(found, child.path)
				continue
			}
			if err := walk(child); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(root); err != nil {
		return nil, err
	}
	return found, nil
}

// SessionDirs returns the session directories of a modern recording.
// The root itself is the only session if it holds the session metadata.
func (c *Crawler) SessionDirs() ([]string, error) {
	if FileExist(filepath.Join(c.path, ModernMetadataFile)) {
		return []string{c.path}, nil
	}

	const sessionDepth = 2
	dirs, err := c.DirsContaining(ModernMetadataFile, sessionDepth)
	if err != nil {
		return nil, err
	}
	if len(dirs) == 0 {
		return nil, &MissingFileError{Path: filepath.Join(c.path, "*", ModernMetadataFile)}
	}
	return dirs, nil
}
