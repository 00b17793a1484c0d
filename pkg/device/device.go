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

// Package device holds the normalized device metadata record.
package device

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ROI region of interest, height and width in pixels.
type ROI [2]int64

// Height of region.
func (r ROI) Height() int64 { return r[0] }

// Width of region.
func (r ROI) Width() int64 { return r[1] }

// Metadata device metadata record. Immutable once built.
// Attribute values are string, int64 or ROI.
type Metadata struct {
	name  string
	attrs map[string]interface{}
}

// Errors.
var (
	ErrNameMissing  = errors.New("device name missing")
	ErrInvalidValue = errors.New("invalid attribute value")
)

// New validates attrs against the schema and returns a record.
// Unknown attributes must be text.
func New(name string, attrs map[string]interface{}) (*Metadata, error) {
	if name == "" {
		return nil, ErrNameMissing
	}

	m := &Metadata{
		name:  name,
		attrs: make(map[string]interface{}, len(attrs)),
	}
	for key, value := range attrs {
		if err := checkKind(key, value); err != nil {
			return nil, err
		}
		m.attrs[key] = value
	}
	return m, nil
}

func checkKind(key string, value interface{}) error {
	kind := KindText
	if field, exist := Lookup(key); exist {
		kind = field.Kind
	}

	var ok bool
	switch kind {
	case KindText:
		_, ok = value.(string)
	case KindInt:
		_, ok = value.(int64)
	case KindROI:
		_, ok = value.(ROI)
	}
	if !ok {
		return fmt.Errorf("%w: %v: %T is not %v", ErrInvalidValue, key, value, kind)
	}
	return nil
}

// Name returns the device name, unique within a session.
func (m *Metadata) Name() string {
	return m.name
}

// Get returns attribute by key.
func (m *Metadata) Get(key string) (interface{}, bool) {
	v, exist := m.attrs[key]
	return v, exist
}

// Text returns text attribute by key.
func (m *Metadata) Text(key string) (string, bool) {
	v, ok := m.attrs[key].(string)
	return v, ok
}

// Int returns integer attribute by key.
func (m *Metadata) Int(key string) (int64, bool) {
	v, ok := m.attrs[key].(int64)
	return v, ok
}

// ROI returns the region of interest if present.
func (m *Metadata) ROI() (ROI, bool) {
	v, ok := m.attrs[FieldROI].(ROI)
	return v, ok
}

// Keys returns the sorted attribute keys.
func (m *Metadata) Keys() []string {
	keys := make([]string, 0, len(m.attrs))
	for key := range m.attrs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Attributes returns a copy of all attributes.
func (m *Metadata) Attributes() map[string]interface{} {
	attrs := make(map[string]interface{}, len(m.attrs))
	for key, value := range m.attrs {
		attrs[key] = value
	}
	return attrs
}

// Merge returns a new record with overrides applied on top.
func (m *Metadata) Merge(overrides map[string]interface{}) (*Metadata, error) {
	attrs := m.Attributes()
	for key, value := range overrides {
		attrs[key] = value
	}
	return New(m.name, attrs)
}

// MarshalJSON implements json.Marshaler .
func (m *Metadata) MarshalJSON() ([]byte, error) {
	out := m.Attributes()
	out["name"] = m.name
	return json.Marshal(out)
}

func (m *Metadata) String() string {
	return fmt.Sprintf("%v%v", m.name, m.attrs)
}
