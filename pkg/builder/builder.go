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

// Package builder composes devices, notes and time indexed
// video series from a recording folder.
package builder

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"miniscope/pkg/config"
	"miniscope/pkg/device"
	"miniscope/pkg/layout"
	"miniscope/pkg/log"
	"miniscope/pkg/settings"
	"miniscope/pkg/storage"
	"miniscope/pkg/timestamps"
	"miniscope/pkg/video"
)

// Bundle normalized recording handed to the container writer.
type Bundle struct {
	// Unique by name.
	Devices []*device.Metadata `json:"devices"`

	// Nil if there are no notes.
	Annotation *settings.Annotation `json:"annotation,omitempty"`

	Series []Series `json:"series"`
}

// Device returns the device by name.
func (b *Bundle) Device(name string) (*device.Metadata, bool) {
	for _, d := range b.Devices {
		if d.Name() == name {
			return d, true
		}
	}
	return nil, false
}

// Series time indexed series of external video files.
type Series struct {
	Name string `json:"name"`

	// Device name.
	Device string `json:"device"`

	// Paths relative to the recording folder in recording order.
	ExternalFiles []string `json:"externalFiles"`

	Timestamps timestamps.Series `json:"timestamps"`

	// Starting frame of each external file.
	StartingFrames []int64 `json:"startingFrames"`
}

type stream struct {
	layout.Stream
	device     string
	timestamps timestamps.Series
	files      video.FileSet
}

type session struct {
	name    string
	start   time.Time
	devices []*device.Metadata
	notes   *settings.Annotation
	streams []stream
}

// Seconds between the first and last sample of the longest stream.
func (s *session) duration() float64 {
	var end float64
	for _, st := range s.streams {
		if e := st.timestamps.End(); e > end {
			end = e
		}
	}
	return end
}

// Builder builds bundles.
type Builder struct {
	cfg    *config.Config
	logger *log.Logger
}

// New returns a builder.
func New(cfg *config.Config, logger *log.Logger) *Builder {
	return &Builder{cfg: cfg, logger: logger}
}

// Build reads every session of the layout and folds them into one bundle.
func Build(l layout.Layout, cfg *config.Config, logger *log.Logger) (*Bundle, error) {
	return New(cfg, logger).Build(l)
}

// Build reads every session of the layout and folds them into one bundle.
func (b *Builder) Build(l layout.Layout) (*Bundle, error) {
	sessions, err := l.Sessions()
	if err != nil {
		return nil, fmt.Errorf("sessions: %w", err)
	}

	results := make([]*session, 0, len(sessions))
	for _, s := range sessions {
		result, err := b.buildSession(l, s)
		if err != nil {
			return nil, fmt.Errorf("session %v: %w", s.Name(), err)
		}
		results = append(results, result)
	}

	bundle, err := fold(l.Path(), results)
	if err != nil {
		return nil, err
	}

	b.logger.Info().
		Src("builder").
		Recording(l.Path()).
		Msgf("%v layout: %d sessions, %d series", l.Kind(), len(results), len(bundle.Series))

	return bundle, nil
}

func (b *Builder) buildSession(l layout.Layout, s layout.Session) (*session, error) {
	streams, err := s.Streams()
	if err != nil {
		return nil, fmt.Errorf("streams: %w", err)
	}

	result := &session{name: s.Name(), start: s.StartTime()}
	for _, st := range streams {
		built, err := b.buildStream(l, s, st)
		if errors.Is(err, storage.ErrEmptyStream) && st.Config(b.cfg).IsOptional() {
			b.logger.Info().
				Src("builder").
				Recording(l.Path()).
				Msgf("%v: skipping %v stream: %v", s.Name(), st.Series, err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%v: %w", st.Series, err)
		}

		result.streams = append(result.streams, built.stream)
		result.devices = appendDevice(result.devices, built.device)
	}

	notes, err := s.Notes()
	if err != nil {
		return nil, fmt.Errorf("notes: %w", err)
	}
	result.notes = notes

	return result, nil
}

type builtStream struct {
	stream stream
	device *device.Metadata
}

func (b *Builder) buildStream(
	l layout.Layout,
	s layout.Session,
	st layout.Stream,
) (*builtStream, error) {
	ts, err := s.Timestamps(st)
	if err != nil {
		return nil, fmt.Errorf("timestamps: %w", err)
	}
	paths, err := s.Videos(st)
	if err != nil {
		return nil, fmt.Errorf("videos: %w", err)
	}
	files, err := video.Resolve(s.Folder(st), paths)
	if err != nil {
		return nil, fmt.Errorf("resolve videos: %w", err)
	}

	ts, err = b.checkFrames(l, s, st, ts, files)
	if err != nil {
		return nil, err
	}

	dev, err := b.device(l, s, st)
	if err != nil {
		return nil, fmt.Errorf("device: %w", err)
	}

	return &builtStream{
		stream: stream{
			Stream:     st,
			device:     dev.Name(),
			timestamps: ts,
			files:      *files,
		},
		device: dev,
	}, nil
}

// The number of timestamps must equal the number of frames.
func (b *Builder) checkFrames(
	l layout.Layout,
	s layout.Session,
	st layout.Stream,
	ts timestamps.Series,
	files *video.FileSet,
) (timestamps.Series, error) {
	total := files.Total()
	if int64(ts.Len()) == total {
		return ts, nil
	}

	mismatch := &storage.MismatchError{
		Stream:     st.Source,
		Timestamps: ts.Len(),
		Frames:     total,
	}
	if !b.cfg.AllowFrameMismatch {
		return timestamps.Series{}, mismatch
	}

	if int64(ts.Len()) > total {
		b.logger.Warn().
			Src("builder").
			Recording(l.Path()).
			Msgf("%v: %v, truncating timestamps", s.Name(), mismatch)
		return ts.Truncate(int(total)), nil
	}

	b.logger.Warn().
		Src("builder").
		Recording(l.Path()).
		Msgf("%v: %v", s.Name(), mismatch)
	return ts, nil
}

func (b *Builder) device(
	l layout.Layout,
	s layout.Session,
	st layout.Stream,
) (*device.Metadata, error) {
	dev, err := s.Device(st)
	if err != nil {
		return nil, err
	}

	overrides, err := settings.ParseOverrides(st.Config(b.cfg).Device)
	if err != nil {
		return nil, fmt.Errorf("overrides: %w", err)
	}
	if len(overrides) != 0 {
		if dev, err = dev.Merge(overrides); err != nil {
			return nil, fmt.Errorf("overrides: %w", err)
		}
	}

	if l.Kind() == layout.KindModern && st.Role == layout.RoleMicroscope {
		_, hasExcitation := dev.Get("excitation")
		_, hasExposure := dev.Get("msCamExposure")
		if !hasExcitation && !hasExposure {
			b.logger.Warn().
				Src("builder").
				Recording(l.Path()).
				Msgf("%v: device %v: excitation and msCamExposure are not recorded,"+
					" set them in the microscope device config", s.Name(), dev.Name())
		}
	}

	if unknown := settings.UnknownKeys(dev); len(unknown) != 0 {
		b.logger.Debug().
			Src("builder").
			Recording(l.Path()).
			Msgf("%v: device %v: unknown attributes %v", s.Name(), dev.Name(), unknown)
	}
	return dev, nil
}

// First device with a given name wins.
func appendDevice(devices []*device.Metadata, d *device.Metadata) []*device.Metadata {
	for _, existing := range devices {
		if existing.Name() == d.Name() {
			return devices
		}
	}
	return append(devices, d)
}

// Sessions are concatenated per series. Starting frames carry a running
// total and timestamps are shifted by the session start relative to the
// first session, or by the end of the previous session if a start time
// is missing. Sessions are ordered by start time when every session has one.
// A session starting before the previous one ended is an error.
func fold(root string, sessions []*session) (*Bundle, error) {
	bundle := &Bundle{}

	useStartTime := len(sessions) > 0
	for _, s := range sessions {
		if s.start.IsZero() {
			useStartTime = false
		}
	}
	if useStartTime {
		sessions = append([]*session(nil), sessions...)
		sort.SliceStable(sessions, func(i, j int) bool {
			return sessions[i].start.Before(sessions[j].start)
		})
	}

	type accumulator struct {
		series *Series
		frames int64
	}
	byName := make(map[string]*accumulator)
	var order []string

	var shift float64
	var notes []*settings.Annotation
	for i, s := range sessions {
		switch {
		case i == 0:
		case useStartTime:
			shift = s.start.Sub(sessions[0].start).Seconds()
		default:
			shift += sessions[i-1].duration()
		}

		for _, d := range s.devices {
			bundle.Devices = appendDevice(bundle.Devices, d)
		}
		if s.notes != nil {
			notes = append(notes, s.notes.Shift(shift))
		}

		for _, st := range s.streams {
			acc, exist := byName[st.Series]
			if !exist {
				acc = &accumulator{series: &Series{
					Name:   st.Series,
					Device: st.device,
				}}
				byName[st.Series] = acc
				order = append(order, st.Series)
			}
			if acc.series.Device != st.device {
				return nil, fmt.Errorf("%v: %w: device changed from %v to %v",
					st.Series, errDeviceChanged, acc.series.Device, st.device)
			}

			shifted := st.timestamps.Shift(shift)
			if acc.series.Timestamps.Len() != 0 && shifted.Len() != 0 &&
				shifted.Seconds[0] < acc.series.Timestamps.End() {
				return nil, &storage.MalformedFieldError{
					Field: "recordingStartTime",
					Value: s.start.Format(time.RFC3339Nano),
					Err: fmt.Errorf("session %v: %v starts at %.3fs before the previous session ends at %.3fs",
						s.name, st.Series, shifted.Seconds[0], acc.series.Timestamps.End()),
				}
			}

			rebased := st.files.Rebase(acc.frames)
			for _, seg := range rebased.Segments {
				acc.series.ExternalFiles = append(acc.series.ExternalFiles, relative(root, seg.Path))
			}
			acc.series.StartingFrames = append(acc.series.StartingFrames, rebased.Offsets...)
			acc.series.Timestamps = timestamps.Concat(acc.series.Timestamps, shifted)
			acc.frames += st.files.Total()
		}
	}

	for _, name := range order {
		bundle.Series = append(bundle.Series, *byName[name].series)
	}
	bundle.Annotation = settings.ConcatAnnotations(notes...)
	return bundle, nil
}

var errDeviceChanged = errors.New("device changed between sessions")

func relative(root string, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.Base(path)
	}
	return filepath.ToSlash(rel)
}
