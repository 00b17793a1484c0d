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

// Package video reads frame counts from video container headers
// and derives the starting frame of each segment.
package video

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"miniscope/pkg/storage"
)

// Errors.
var (
	ErrUnknownContainer = errors.New("unknown container")
	ErrNoFrameCount     = errors.New("frame count not found")
	ErrBoxSize          = errors.New("invalid box size")
)

// Segment one video file.
type Segment struct {
	Path       string
	FrameCount int64
}

// FileSet video segments of one stream in recording order.
type FileSet struct {
	Segments []Segment

	// Starting frame of each segment.
	Offsets []int64
}

// Total returns the total number of frames.
func (f FileSet) Total() int64 {
	var total int64
	for _, s := range f.Segments {
		total += s.FrameCount
	}
	return total
}

// Basenames returns the file names of the segments.
func (f FileSet) Basenames() []string {
	names := make([]string, len(f.Segments))
	for i, s := range f.Segments {
		names[i] = filepath.Base(s.Path)
	}
	return names
}

// Rebase returns a copy with base added to every offset.
func (f FileSet) Rebase(base int64) FileSet {
	offsets := make([]int64, len(f.Offsets))
	for i, offset := range f.Offsets {
		offsets[i] = offset + base
	}
	return FileSet{
		Segments: append([]Segment(nil), f.Segments...),
		Offsets:  offsets,
	}
}

// Offsets returns the starting frame of each segment.
//
//	offsets[0] = 0
//	offsets[i] = offsets[i-1] + counts[i-1]
func Offsets(counts []int64) []int64 {
	offsets := make([]int64, len(counts))
	for i := 1; i < len(counts); i++ {
		offsets[i] = offsets[i-1] + counts[i-1]
	}
	return offsets
}

// Resolve probes the frame count of every segment in natural order.
// Any failure fails the whole set, offsets are cumulative.
// The stream folder is reported if there are no segments.
func Resolve(folder string, paths []string) (*FileSet, error) {
	if len(paths) == 0 {
		return nil, &storage.MissingFileError{Path: folder}
	}

	sorted := storage.SortNatural(paths)
	segments := make([]Segment, len(sorted))
	counts := make([]int64, len(sorted))
	for i, path := range sorted {
		count, err := FrameCount(path)
		if err != nil {
			return nil, err
		}
		segments[i] = Segment{Path: path, FrameCount: count}
		counts[i] = count
	}

	return &FileSet{
		Segments: segments,
		Offsets:  Offsets(counts),
	}, nil
}

// FrameCount reads the declared number of video frames from the
// container header. Pixel data is never read. AVI and MP4 are supported.
func FrameCount(path string) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, &storage.MissingFileError{Path: path}
		}
		return 0, &storage.CorruptVideoError{Path: path, Err: err}
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return 0, &storage.CorruptVideoError{Path: path, Err: err}
	}

	count, err := probe(file, info.Size())
	if err != nil {
		return 0, &storage.CorruptVideoError{Path: path, Err: err}
	}
	return count, nil
}

func probe(r io.ReaderAt, size int64) (int64, error) {
	magic := make([]byte, 12)
	if _, err := r.ReadAt(magic, 0); err != nil {
		return 0, fmt.Errorf("read magic: %w", err)
	}

	switch {
	case bytes.Equal(magic[:4], []byte("RIFF")) && bytes.Equal(magic[8:12], []byte("AVI ")):
		return aviFrameCount(r, size)
	case isMP4(magic[4:8]):
		return mp4FrameCount(r, size)
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownContainer, magic[:8])
}

var mp4TopLevel = [][]byte{
	[]byte("ftyp"),
	[]byte("moov"),
	[]byte("mdat"),
	[]byte("free"),
	[]byte("skip"),
	[]byte("wide"),
}

func isMP4(typ []byte) bool {
	for _, t := range mp4TopLevel {
		if bytes.Equal(typ, t) {
			return true
		}
	}
	return false
}
