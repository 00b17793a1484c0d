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

// Package layout hides the two on-disk recording layouts behind one interface.
package layout

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"miniscope/pkg/config"
	"miniscope/pkg/device"
	"miniscope/pkg/settings"
	"miniscope/pkg/storage"
	"miniscope/pkg/timestamps"
)

// Kind layout kind.
type Kind string

// Kinds.
const (
	KindLegacy Kind = "legacy"
	KindModern Kind = "modern"
)

// Layout recording folder.
type Layout interface {
	Kind() Kind
	Path() string

	// Sessions in recording order.
	Sessions() ([]Session, error)
}

// Session one continuous recording.
type Session interface {
	Name() string

	// Zero if unknown.
	StartTime() time.Time

	Streams() ([]Stream, error)

	// Folder holding the stream files.
	Folder(Stream) string

	Device(Stream) (*device.Metadata, error)
	Timestamps(Stream) (timestamps.Series, error)

	// Video segment paths in natural order.
	// Returns EmptyStreamError if nothing matches.
	Videos(Stream) ([]string, error)

	// Nil if there are no notes.
	Notes() (*settings.Annotation, error)
}

// Role what the stream records.
type Role uint8

// Roles.
const (
	RoleMicroscope Role = iota
	RoleBehavior
)

func (r Role) String() string {
	if r == RoleBehavior {
		return "behavior"
	}
	return "microscope"
}

// Stream physical stream.
type Stream struct {
	// Series name.
	Series string

	// Camera index or stream folder name.
	Source string

	Role Role
}

// Config returns the configuration block of the stream role.
func (s Stream) Config(cfg *config.Config) config.Stream {
	if s.Role == RoleBehavior {
		return cfg.Behavior
	}
	return cfg.Microscope
}

// ErrUnknownLayout neither layout was found.
var ErrUnknownLayout = errors.New("unknown layout")

// Detect probes folder for a legacy settings file or modern session metadata.
// The layout can be forced by the configuration.
func Detect(folder string, cfg *config.Config) (Layout, error) {
	switch cfg.Layout {
	case config.LayoutLegacy:
		return NewLegacy(folder, cfg), nil
	case config.LayoutModern:
		return NewModern(folder, cfg), nil
	}

	if !storage.DirExist(folder) {
		return nil, &storage.MissingFileError{Path: folder}
	}
	if storage.FileExist(filepath.Join(folder, storage.LegacySettingsFile)) {
		return NewLegacy(folder, cfg), nil
	}

	_, err := storage.NewCrawler(folder).SessionDirs()
	if err == nil {
		return NewModern(folder, cfg), nil
	}
	if errors.Is(err, storage.ErrMissingFile) {
		return nil, fmt.Errorf("%w: %v: %w", ErrUnknownLayout, folder, err)
	}
	return nil, fmt.Errorf("detect layout: %w", err)
}

// Series name of the nth stream with the same role.
func seriesName(base string, index int, source string) string {
	if index == 0 {
		return base
	}
	return base + strings.ReplaceAll(source, " ", "")
}
