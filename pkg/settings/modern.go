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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"miniscope/pkg/device"
	"miniscope/pkg/storage"
)

// Host local keys that don't describe the device.
var droppedKeys = map[string]struct{}{
	"deviceDirectory": {},
	"deviceID":        {},
}

// ReadModern reads the device settings from metaData.json in a stream folder.
//
//	{
//	  "ROI": {"height": 608, "leftEdge": 0, "topEdge": 0, "width": 608},
//	  "compression": "FFV1",
//	  "deviceName": "Miniscope",
//	  "frameRate": "20FPS",
//	  "gain": "High",
//	  "led0": 47
//	}
func ReadModern(streamFolder string) (*device.Metadata, error) {
	path := filepath.Join(streamFolder, storage.ModernMetadataFile)
	raw, err := readJSON(path)
	if err != nil {
		return nil, err
	}

	rawName, _ := raw["deviceName"].(string)
	name := strings.ReplaceAll(rawName, " ", "")
	if name == "" {
		return nil, &storage.MalformedFieldError{
			Field: "deviceName", Value: fmt.Sprintf("%v", raw["deviceName"]), Path: path,
		}
	}

	attrs := map[string]interface{}{
		"version": VersionModern,
	}
	for key, value := range raw {
		if key == "deviceName" {
			continue
		}
		if _, drop := droppedKeys[key]; drop {
			continue
		}

		parsed, err := device.ParseJSON(key, value)
		if err != nil {
			return nil, withPath(err, path)
		}
		attrs[key] = parsed

		if key == device.FieldROI {
			addROIEdges(attrs, value)
		}
	}

	return device.New(name, attrs)
}

// The device record only holds height and width, the edges are kept as text.
func addROIEdges(attrs map[string]interface{}, value interface{}) {
	roi, ok := value.(map[string]interface{})
	if !ok {
		return
	}
	for key, v := range roi {
		if key == "height" || key == "width" {
			continue
		}
		text, err := device.ParseJSON(device.FieldROI+"."+key, v)
		if err == nil {
			attrs[device.FieldROI+"."+key] = text
		}
	}
}

// UnknownKeys returns the attributes that aren't part of the schema.
func UnknownKeys(m *device.Metadata) []string {
	var unknown []string
	for _, key := range m.Keys() {
		if _, exist := device.Lookup(key); !exist && key != "version" {
			unknown = append(unknown, key)
		}
	}
	return unknown
}

// ParseOverrides coerces raw override values with the schema rules.
func ParseOverrides(raw map[string]string) (map[string]interface{}, error) {
	overrides := make(map[string]interface{}, len(raw))
	for key, value := range raw {
		parsed, err := device.ParseText(key, value)
		if err != nil {
			return nil, err
		}
		overrides[key] = parsed
	}
	return overrides, nil
}

// Session session metadata.
type Session struct {
	// Zero if not recorded.
	StartTime time.Time

	Miniscopes []string
	Cameras    []string

	AnimalName     string
	ExperimentName string
	ResearcherName string
}

// HasStartTime returns true if the start time was recorded.
func (s Session) HasStartTime() bool {
	return !s.StartTime.IsZero()
}

// Streams returns the stream folder names, miniscopes first.
func (s Session) Streams() []string {
	streams := make([]string, 0, len(s.Miniscopes)+len(s.Cameras))
	streams = append(streams, s.Miniscopes...)
	return append(streams, s.Cameras...)
}

type sessionFile struct {
	RecordingStartTime *struct {
		Year   int `json:"year"`
		Month  int `json:"month"`
		Day    int `json:"day"`
		Hour   int `json:"hour"`
		Minute int `json:"minute"`
		Second int `json:"second"`
		Msec   int `json:"msec"`
	} `json:"recordingStartTime"`

	Miniscopes []string `json:"miniscopes"`
	Cameras    []string `json:"cameras"`

	AnimalName     string `json:"animalName"`
	ExperimentName string `json:"experimentName"`
	ResearcherName string `json:"researcherName"`
}

// ReadSession reads the session metaData.json in a session folder.
//
//	{
//	  "cameras": ["BehavCam 2"],
//	  "miniscopes": ["Miniscope"],
//	  "recordingStartTime": {
//	    "year": 2022, "month": 9, "day": 19,
//	    "hour": 15, "minute": 35, "second": 31, "msec": 422
//	  }
//	}
func ReadSession(sessionFolder string) (*Session, error) {
	path := filepath.Join(sessionFolder, storage.ModernMetadataFile)
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &storage.MissingFileError{Path: path}
		}
		return nil, fmt.Errorf("read %v: %w", path, err)
	}

	var file sessionFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, &storage.MalformedFieldError{
			Field: storage.ModernMetadataFile, Value: "", Path: path, Err: err,
		}
	}

	session := &Session{
		Miniscopes:     file.Miniscopes,
		Cameras:        file.Cameras,
		AnimalName:     file.AnimalName,
		ExperimentName: file.ExperimentName,
		ResearcherName: file.ResearcherName,
	}
	if t := file.RecordingStartTime; t != nil {
		session.StartTime = time.Date(
			t.Year, time.Month(t.Month), t.Day,
			t.Hour, t.Minute, t.Second,
			t.Msec*int(time.Millisecond), time.UTC)
	}
	return session, nil
}

func readJSON(path string) (map[string]interface{}, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &storage.MissingFileError{Path: path}
		}
		return nil, fmt.Errorf("read %v: %w", path, err)
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var out map[string]interface{}
	if err := decoder.Decode(&out); err != nil {
		return nil, &storage.MalformedFieldError{
			Field: storage.ModernMetadataFile, Value: "", Path: path, Err: err,
		}
	}
	return out, nil
}
