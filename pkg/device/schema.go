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

package device

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"miniscope/pkg/storage"
)

// Kind attribute type.
type Kind uint8

// Kinds.
const (
	KindText Kind = iota
	KindInt
	KindROI
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindInt:
		return "int"
	case KindROI:
		return "roi"
	}
	return "unknown"
}

// Field schema field.
type Field struct {
	Name string
	Kind Kind
	Doc  string
}

// FieldROI region of interest attribute.
const FieldROI = "ROI"

// Schema attributes of the Miniscope device record.
// All of them are optional, attributes not listed here are kept as text.
var Schema = []Field{
	{"description", KindText, "description of the device"},
	{"manufacturer", KindText, "manufacturer of the device"},
	{"version", KindText, "acquisition software generation"},
	{"animal", KindText, "animal name"},
	{"compression", KindText, "video compression codec"},
	{"deviceType", KindText, "device model"},
	{"frameRate", KindText, "frame rate, \"20FPS\""},
	{"gain", KindText, "sensor gain, \"High\" or numeric"},
	{"excitation", KindInt, "magnitude of excitation"},
	{"msCamExposure", KindInt, "exposure of camera (max=255)"},
	{"recordLength", KindInt, "recording length"},
	{"framesPerFile", KindInt, "number of frames per video segment"},
	{"led0", KindInt, "excitation LED power"},
	{"ewl", KindInt, "electro wetting lens focus"},
	{"cameraID", KindInt, "camera index"},
	{FieldROI, KindROI, "region of interest [height, width]"},
}

var schemaByName = func() map[string]Field {
	m := make(map[string]Field, len(Schema))
	for _, field := range Schema {
		m[field.Name] = field
	}
	return m
}()

// Lookup returns the schema field by name.
func Lookup(name string) (Field, bool) {
	field, exist := schemaByName[name]
	return field, exist
}

// ParseText coerces a raw text value to the declared type of the field.
func ParseText(field string, raw string) (interface{}, error) {
	f, exist := Lookup(field)
	if !exist {
		return raw, nil
	}

	switch f.Kind {
	case KindInt:
		v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, &storage.MalformedFieldError{Field: field, Value: raw}
		}
		return v, nil
	case KindROI:
		return parseROIText(field, raw)
	}
	return raw, nil
}

// "608,608", "[608, 608]" or "608x608".
func parseROIText(field string, raw string) (ROI, error) {
	trimmed := strings.Trim(strings.TrimSpace(raw), "[]")
	parts := strings.FieldsFunc(trimmed, func(r rune) bool {
		return r == ',' || r == 'x' || r == ' '
	})
	if len(parts) != 2 {
		return ROI{}, &storage.MalformedFieldError{Field: field, Value: raw}
	}

	var roi ROI
	for i, part := range parts {
		v, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return ROI{}, &storage.MalformedFieldError{Field: field, Value: raw}
		}
		roi[i] = v
	}
	return roi, nil
}

// ParseJSON coerces a decoded JSON value to the declared type of the field.
// Numbers must be decoded as json.Number. Unknown fields are kept as text,
// nested values are stored as compact JSON.
func ParseJSON(field string, value interface{}) (interface{}, error) {
	f, exist := Lookup(field)
	if !exist {
		return jsonToText(value), nil
	}

	switch f.Kind {
	case KindInt:
		return jsonToInt(field, value)
	case KindROI:
		return jsonToROI(field, value)
	}

	switch value.(type) {
	case map[string]interface{}, []interface{}:
		return nil, &storage.MalformedFieldError{Field: field, Value: compact(value)}
	}
	return jsonToText(value), nil
}

func jsonToText(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	}
	return compact(value)
}

func jsonToInt(field string, value interface{}) (int64, error) {
	n, ok := value.(json.Number)
	if !ok {
		return 0, &storage.MalformedFieldError{Field: field, Value: compact(value)}
	}
	v, err := n.Int64()
	if err != nil {
		return 0, &storage.MalformedFieldError{Field: field, Value: n.String()}
	}
	return v, nil
}

// {"height": 608, "leftEdge": 0, "topEdge": 0, "width": 608} or [608, 608].
func jsonToROI(field string, value interface{}) (ROI, error) {
	switch v := value.(type) {
	case map[string]interface{}:
		height, err := jsonToInt(field+".height", v["height"])
		if err != nil {
			return ROI{}, err
		}
		width, err := jsonToInt(field+".width", v["width"])
		if err != nil {
			return ROI{}, err
		}
		return ROI{height, width}, nil

	case []interface{}:
		if len(v) != 2 {
			return ROI{}, &storage.MalformedFieldError{Field: field, Value: compact(value)}
		}
		var roi ROI
		for i, item := range v {
			n, err := jsonToInt(field, item)
			if err != nil {
				return ROI{}, err
			}
			roi[i] = n
		}
		return roi, nil
	}
	return ROI{}, &storage.MalformedFieldError{Field: field, Value: compact(value)}
}

func compact(value interface{}) string {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(raw)
}
