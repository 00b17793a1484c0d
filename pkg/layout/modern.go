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
	"strings"
	"time"

	"miniscope/pkg/config"
	"miniscope/pkg/device"
	"miniscope/pkg/settings"
	"miniscope/pkg/storage"
	"miniscope/pkg/timestamps"
)

// Modern hierarchical recording folder with one or more sessions.
type Modern struct {
	path string
	cfg  *config.Config
}

// NewModern returns modern layout.
func NewModern(path string, cfg *config.Config) *Modern {
	return &Modern{path: path, cfg: cfg}
}

// Kind implements Layout.
func (m *Modern) Kind() Kind {
	return KindModern
}

// Path implements Layout.
func (m *Modern) Path() string {
	return m.path
}

// Sessions implements Layout.
func (m *Modern) Sessions() ([]Session, error) {
	dirs, err := storage.NewCrawler(m.path).SessionDirs()
	if err != nil {
		return nil, err
	}

	sessions := make([]Session, 0, len(dirs))
	for _, dir := range dirs {
		meta, err := settings.ReadSession(dir)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, &modernSession{
			path: dir,
			meta: meta,
			cfg:  m.cfg,
		})
	}
	return sessions, nil
}

type modernSession struct {
	path string
	meta *settings.Session
	cfg  *config.Config
}

func (s *modernSession) Name() string {
	return filepath.Base(s.path)
}

func (s *modernSession) StartTime() time.Time {
	return s.meta.StartTime
}

// Stream folders come from the session metadata. Older recordings
// don't list them, then every device folder is used.
func (s *modernSession) Streams() ([]Stream, error) {
	microscopes := s.meta.Miniscopes
	cameras := s.meta.Cameras
	if len(microscopes) == 0 && len(cameras) == 0 {
		var err error
		microscopes, cameras, err = s.discover()
		if err != nil {
			return nil, err
		}
	}

	if folder := s.cfg.Microscope.Stream; folder != "" {
		microscopes = []string{folder}
	}
	if folder := s.cfg.Behavior.Stream; folder != "" {
		cameras = []string{folder}
	}

	streams := make([]Stream, 0, len(microscopes)+len(cameras))
	for i, folder := range microscopes {
		streams = append(streams, Stream{
			Series: seriesName(s.cfg.Microscope.Name, i, folder),
			Source: folder,
			Role:   RoleMicroscope,
		})
	}
	for i, folder := range cameras {
		streams = append(streams, Stream{
			Series: seriesName(s.cfg.Behavior.Name, i, folder),
			Source: folder,
			Role:   RoleBehavior,
		})
	}
	return streams, nil
}

func (s *modernSession) discover() ([]string, []string, error) {
	dirs, err := storage.NewCrawler(s.path).DirsContaining(storage.ModernMetadataFile, 1)
	if err != nil {
		return nil, nil, err
	}

	var microscopes, cameras []string
	for _, dir := range dirs {
		name := filepath.Base(dir)
		if strings.Contains(strings.ToLower(name), "behav") {
			cameras = append(cameras, name)
		} else {
			microscopes = append(microscopes, name)
		}
	}
	return microscopes, cameras, nil
}

func (s *modernSession) Folder(stream Stream) string {
	return filepath.Join(s.path, stream.Source)
}

func (s *modernSession) Device(stream Stream) (*device.Metadata, error) {
	return settings.ReadModern(s.Folder(stream))
}

func (s *modernSession) Timestamps(stream Stream) (timestamps.Series, error) {
	return timestamps.ReadModern(s.Folder(stream), stream.Config(s.cfg).TimestampFile)
}

func (s *modernSession) Videos(stream Stream) ([]string, error) {
	pattern := s.cfg.MicroscopeVideoPattern(false)
	if stream.Role == RoleBehavior {
		pattern = s.cfg.BehaviorVideoPattern(false)
	}

	folder := s.Folder(stream)
	paths, err := storage.GlobNatural(folder, pattern)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, &storage.EmptyStreamError{
			Stream: stream.Source,
			Path:   filepath.Join(folder, pattern),
		}
	}
	return paths, nil
}

func (s *modernSession) Notes() (*settings.Annotation, error) {
	return settings.ReadModernNotes(s.path)
}
