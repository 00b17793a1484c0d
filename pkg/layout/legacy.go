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

package layout

import (
	"path/filepath"
	"strconv"
	"time"

	"miniscope/pkg/config"
	"miniscope/pkg/device"
	"miniscope/pkg/settings"
	"miniscope/pkg/storage"
	"miniscope/pkg/timestamps"
)

// Legacy flat recording folder, one session with two
// cameras sharing a single timestamp file.
type Legacy struct {
	path string
	cfg  *config.Config
}

// NewLegacy returns legacy layout.
func NewLegacy(path string, cfg *config.Config) *Legacy {
	return &Legacy{path: path, cfg: cfg}
}

// Kind implements Layout.
func (l *Legacy) Kind() Kind {
	return KindLegacy
}

// Path implements Layout.
func (l *Legacy) Path() string {
	return l.path
}

// Sessions implements Layout.
func (l *Legacy) Sessions() ([]Session, error) {
	return []Session{&legacySession{path: l.path, cfg: l.cfg}}, nil
}

type legacySession struct {
	path string
	cfg  *config.Config
}

func (s *legacySession) Name() string {
	return filepath.Base(s.path)
}

func (s *legacySession) StartTime() time.Time {
	return time.Time{}
}

func (s *legacySession) Streams() ([]Stream, error) {
	return []Stream{
		{
			Series: s.cfg.Microscope.Name,
			Source: strconv.Itoa(s.cfg.Microscope.CameraIndex()),
			Role:   RoleMicroscope,
		},
		{
			Series: s.cfg.Behavior.Name,
			Source: strconv.Itoa(s.cfg.Behavior.CameraIndex()),
			Role:   RoleBehavior,
		},
	}, nil
}

// The settings file only describes the microscope.
// Streams share the recording folder.
func (s *legacySession) Folder(Stream) string {
	return s.path
}

func (s *legacySession) Device(stream Stream) (*device.Metadata, error) {
	if stream.Role == RoleBehavior {
		return device.New(settings.LegacyBehaviorName, map[string]interface{}{
			"version": settings.VersionLegacy,
		})
	}
	return settings.ReadLegacy(s.path)
}

func (s *legacySession) Timestamps(stream Stream) (timestamps.Series, error) {
	c := stream.Config(s.cfg)
	return timestamps.ReadLegacy(s.path, c.CameraIndex(), c.TimestampFile)
}

func (s *legacySession) Videos(stream Stream) ([]string, error) {
	pattern := s.cfg.MicroscopeVideoPattern(true)
	if stream.Role == RoleBehavior {
		pattern = s.cfg.BehaviorVideoPattern(true)
	}

	paths, err := storage.GlobNatural(s.path, pattern)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, &storage.EmptyStreamError{
			Stream: stream.Series,
			Path:   filepath.Join(s.path, pattern),
		}
	}
	return paths, nil
}

func (s *legacySession) Notes() (*settings.Annotation, error) {
	return settings.ReadLegacyNotes(s.path)
}
