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

// Package config loads the conversion configuration.
package config

import (
	"errors"
	"fmt"
	"os"

	"miniscope/pkg/storage"

	"gopkg.in/yaml.v3"
)

// Layout selects the on-disk layout.
type Layout string

// Layouts.
const (
	LayoutAuto   Layout = "auto"
	LayoutLegacy Layout = "legacy"
	LayoutModern Layout = "modern"
)

// Config conversion configuration.
//
//	layout: auto
//	allowFrameMismatch: false
//	microscope:
//	  device:
//	    excitation: 47
//	behavior:
//	  stream: BehavCam 2
//	  optional: true
type Config struct {
	Layout Layout `yaml:"layout"`

	// Downgrade timestamp and frame count mismatches to a warning.
	AllowFrameMismatch bool `yaml:"allowFrameMismatch"`

	Microscope Stream `yaml:"microscope"`
	Behavior   Stream `yaml:"behavior"`
}

// Stream selects one physical stream.
type Stream struct {
	// Series name handed to the container writer.
	Name string `yaml:"name"`

	// Modern stream folder name, "Miniscope" or "BehavCam 2".
	// Empty uses the names listed in the session metadata.
	Stream string `yaml:"stream"`

	// Legacy camera index in timestamp.dat.
	Camera *int `yaml:"camera"`

	VideoPattern string `yaml:"videoPattern"`

	// Explicit timestamp file, relative to the stream folder.
	TimestampFile string `yaml:"timestampFile"`

	// An empty stream is dropped instead of failing the conversion.
	// Unset defaults to true for a behavior camera without camera or stream.
	Optional *bool `yaml:"optional"`

	// Device attribute overrides, "excitation" and "msCamExposure"
	// aren't recorded by the modern acquisition software.
	Device map[string]string `yaml:"device"`
}

// IsOptional reports if an empty stream is dropped.
func (s Stream) IsOptional() bool {
	return s.Optional != nil && *s.Optional
}

// CameraIndex returns the legacy camera index.
func (s Stream) CameraIndex() int {
	if s.Camera == nil {
		return 0
	}
	return *s.Camera
}

// Errors.
var (
	ErrInvalidLayout = errors.New("invalid layout")
	ErrInvalidStream = errors.New("invalid stream")
)

// Default camera indexes in timestamp.dat.
const (
	DefaultMicroscopeCamera = 1
	DefaultBehaviorCamera   = 0
)

// NewConfig parses and validates configuration, empty values are set to defaults.
func NewConfig(raw []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// The behavior camera is optional unless explicitly configured.
	behaviorOptional := c.Behavior.Camera == nil && c.Behavior.Stream == ""

	c.fillDefaults()
	if c.Behavior.Optional == nil {
		c.Behavior.Optional = &behaviorOptional
	}
	if c.Microscope.Optional == nil {
		microscopeOptional := false
		c.Microscope.Optional = &microscopeOptional
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default returns the default configuration.
func Default() *Config {
	c, _ := NewConfig(nil)
	return c
}

// Load reads configuration from file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return NewConfig(raw)
}

func (c *Config) fillDefaults() {
	if c.Layout == "" {
		c.Layout = LayoutAuto
	}

	if c.Microscope.Name == "" {
		c.Microscope.Name = "OnePhotonSeries"
	}
	if c.Microscope.Camera == nil {
		camera := DefaultMicroscopeCamera
		c.Microscope.Camera = &camera
	}

	if c.Behavior.Name == "" {
		c.Behavior.Name = "BehavCamImageSeries"
	}
	if c.Behavior.Camera == nil {
		camera := DefaultBehaviorCamera
		c.Behavior.Camera = &camera
	}
}

func (c *Config) validate() error {
	switch c.Layout {
	case LayoutAuto, LayoutLegacy, LayoutModern:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLayout, c.Layout)
	}

	if c.Microscope.Name == c.Behavior.Name {
		return fmt.Errorf("%w: duplicate name %q", ErrInvalidStream, c.Microscope.Name)
	}
	if c.Microscope.CameraIndex() < 0 || c.Behavior.CameraIndex() < 0 {
		return fmt.Errorf("%w: negative camera index", ErrInvalidStream)
	}
	if c.Microscope.Camera != nil && c.Behavior.Camera != nil &&
		*c.Microscope.Camera == *c.Behavior.Camera {
		return fmt.Errorf("%w: duplicate camera index %d", ErrInvalidStream, *c.Microscope.Camera)
	}
	if c.Microscope.Stream != "" && c.Microscope.Stream == c.Behavior.Stream {
		return fmt.Errorf("%w: duplicate stream folder %q", ErrInvalidStream, c.Microscope.Stream)
	}
	return nil
}

// MicroscopeVideoPattern returns the microscope video glob for the layout.
func (c *Config) MicroscopeVideoPattern(legacy bool) string {
	return videoPattern(c.Microscope, legacy, storage.DefaultLegacyMicroscopeGlob)
}

// BehaviorVideoPattern returns the behavior camera video glob for the layout.
func (c *Config) BehaviorVideoPattern(legacy bool) string {
	return videoPattern(c.Behavior, legacy, storage.DefaultLegacyBehaviorGlob)
}

func videoPattern(s Stream, legacy bool, legacyDefault string) string {
	switch {
	case s.VideoPattern != "":
		return s.VideoPattern
	case legacy:
		return legacyDefault
	default:
		return storage.DefaultModernVideoGlob
	}
}
