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
	"errors"
	"fmt"
)

// Sentinel errors, every typed error below matches one of these with errors.Is.
var (
	ErrMissingFile    = errors.New("missing file")
	ErrMalformedField = errors.New("malformed field")
	ErrEmptyStream    = errors.New("empty stream")
	ErrCorruptVideo   = errors.New("corrupt video")
	ErrMismatch       = errors.New("timestamp and frame count mismatch")
)

// MissingFileError an expected settings, timestamp or video source is absent.
type MissingFileError struct {
	Path string
}

func (e *MissingFileError) Error() string {
	if e.Path == "" {
		return ErrMissingFile.Error()
	}
	return fmt.Sprintf("%v: %v", ErrMissingFile, e.Path)
}

// Is implements errors.Is .
func (e *MissingFileError) Is(target error) bool {
	return target == ErrMissingFile
}

// MalformedFieldError a value could not be coerced to the declared type.
type MalformedFieldError struct {
	Field string
	Value string

	// Optional source of the value.
	Path string
	Err  error
}

func (e *MalformedFieldError) Error() string {
	msg := fmt.Sprintf("%v '%v': %q", ErrMalformedField, e.Field, e.Value)
	if e.Path != "" {
		msg += " in " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is implements errors.Is .
func (e *MalformedFieldError) Is(target error) bool {
	return target == ErrMalformedField
}

func (e *MalformedFieldError) Unwrap() error {
	return e.Err
}

// EmptyStreamError the stream selector matched nothing.
// Callers may treat this as "stream absent".
type EmptyStreamError struct {
	Stream string
	Path   string
}

func (e *EmptyStreamError) Error() string {
	return fmt.Sprintf("%v '%v': %v", ErrEmptyStream, e.Stream, e.Path)
}

// Is implements errors.Is .
func (e *EmptyStreamError) Is(target error) bool {
	return target == ErrEmptyStream
}

// CorruptVideoError the video container header could not be read.
type CorruptVideoError struct {
	Path string
	Err  error
}

func (e *CorruptVideoError) Error() string {
	return fmt.Sprintf("%v: %v: %v", ErrCorruptVideo, e.Path, e.Err)
}

// Is implements errors.Is .
func (e *CorruptVideoError) Is(target error) bool {
	return target == ErrCorruptVideo
}

func (e *CorruptVideoError) Unwrap() error {
	return e.Err
}

// MismatchError the number of timestamps differs from the number of frames.
type MismatchError struct {
	Stream     string
	Timestamps int
	Frames     int64
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%v '%v': %d timestamps, %d frames",
		ErrMismatch, e.Stream, e.Timestamps, e.Frames)
}

// Is implements errors.Is .
func (e *MismatchError) Is(target error) bool {
	return target == ErrMismatch
}
