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

package video

import (
	"fmt"
	"io"

	"github.com/icza/bitio"
)

// BoxType is mpeg box type.
type BoxType [4]byte

func (t BoxType) String() string {
	return string(t[:])
}

func boxType(v uint64) BoxType {
	return BoxType{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

// Box types.
var (
	boxMoov = BoxType{'m', 'o', 'o', 'v'}
	boxTrak = BoxType{'t', 'r', 'a', 'k'}
	boxMdia = BoxType{'m', 'd', 'i', 'a'}
	boxHdlr = BoxType{'h', 'd', 'l', 'r'}
	boxMinf = BoxType{'m', 'i', 'n', 'f'}
	boxStbl = BoxType{'s', 't', 'b', 'l'}
	boxStsz = BoxType{'s', 't', 's', 'z'}
	boxStz2 = BoxType{'s', 't', 'z', '2'}
)

// Box header, offset and size describe the payload.
type box struct {
	typ    BoxType
	offset int64
	size   int64
}

// Boxes in [start, end). The payload of mdat is never read.
func readBoxes(r io.ReaderAt, start int64, end int64) ([]box, error) {
	var boxes []box
	for pos := start; pos+8 <= end; {
		br := bitio.NewReader(io.NewSectionReader(r, pos, end-pos))

		size := int64(br.TryReadBits(32))
		b := box{typ: boxType(br.TryReadBits(32))}
		headerSize := int64(8)
		switch size {
		case 0: // Extends to the end.
			size = end - pos
		case 1:
			size = int64(br.TryReadBits(64))
			headerSize = 16
		}
		if br.TryError != nil {
			return nil, fmt.Errorf("read box header: %w", br.TryError)
		}
		if size < headerSize || pos+size > end {
			return nil, fmt.Errorf("%w: %v %d", ErrBoxSize, b.typ, size)
		}

		b.offset = pos + headerSize
		b.size = size - headerSize
		boxes = append(boxes, b)

		pos += size
	}
	return boxes, nil
}

func findBox(boxes []box, typ BoxType) (box, bool) {
	for _, b := range boxes {
		if b.typ == typ {
			return b, true
		}
	}
	return box{}, false
}

func children(r io.ReaderAt, parent box) ([]box, error) {
	return readBoxes(r, parent.offset, parent.offset+parent.size)
}

// ISO BMFF layout, the sample count of the video track is the frame count.
//
//	moov
//	  trak
//	    mdia
//	      hdlr 'vide'
//	      minf
//	        stbl
//	          stsz
func mp4FrameCount(r io.ReaderAt, size int64) (int64, error) {
	top, err := readBoxes(r, 0, size)
	if err != nil {
		return 0, err
	}
	moov, ok := findBox(top, boxMoov)
	if !ok {
		return 0, fmt.Errorf("%w: missing moov", ErrNoFrameCount)
	}

	traks, err := children(r, moov)
	if err != nil {
		return 0, err
	}
	for _, trak := range traks {
		if trak.typ != boxTrak {
			continue
		}
		count, isVideo, err := trakSampleCount(r, trak)
		if err != nil {
			return 0, err
		}
		if isVideo {
			return count, nil
		}
	}
	return 0, fmt.Errorf("%w: no video track", ErrNoFrameCount)
}

func trakSampleCount(r io.ReaderAt, trak box) (int64, bool, error) {
	trakBoxes, err := children(r, trak)
	if err != nil {
		return 0, false, err
	}
	mdia, ok := findBox(trakBoxes, boxMdia)
	if !ok {
		return 0, false, nil
	}
	mdiaBoxes, err := children(r, mdia)
	if err != nil {
		return 0, false, err
	}

	hdlr, ok := findBox(mdiaBoxes, boxHdlr)
	if !ok {
		return 0, false, nil
	}
	handler, err := readHandlerType(r, hdlr)
	if err != nil {
		return 0, false, err
	}
	if handler != "vide" {
		return 0, false, nil
	}

	minf, ok := findBox(mdiaBoxes, boxMinf)
	if !ok {
		return 0, true, fmt.Errorf("%w: missing minf", ErrNoFrameCount)
	}
	minfBoxes, err := children(r, minf)
	if err != nil {
		return 0, true, err
	}
	stbl, ok := findBox(minfBoxes, boxStbl)
	if !ok {
		return 0, true, fmt.Errorf("%w: missing stbl", ErrNoFrameCount)
	}
	stblBoxes, err := children(r, stbl)
	if err != nil {
		return 0, true, err
	}

	if stsz, ok := findBox(stblBoxes, boxStsz); ok {
		count, err := readStsz(r, stsz)
		return count, true, err
	}
	if stz2, ok := findBox(stblBoxes, boxStz2); ok {
		count, err := readStz2(r, stz2)
		return count, true, err
	}
	return 0, true, fmt.Errorf("%w: missing stsz", ErrNoFrameCount)
}

func payloadReader(r io.ReaderAt, b box) *bitio.Reader {
	return bitio.NewReader(io.NewSectionReader(r, b.offset, b.size))
}

// version(8) flags(24) pre_defined(32) handler_type(32).
func readHandlerType(r io.ReaderAt, hdlr box) (string, error) {
	br := payloadReader(r, hdlr)
	br.TryReadBits(32)
	br.TryReadBits(32)
	handler := boxType(br.TryReadBits(32))
	if br.TryError != nil {
		return "", fmt.Errorf("read hdlr: %w", br.TryError)
	}
	return handler.String(), nil
}

// version(8) flags(24) sample_size(32) sample_count(32).
func readStsz(r io.ReaderAt, stsz box) (int64, error) {
	br := payloadReader(r, stsz)
	br.TryReadBits(32)
	br.TryReadBits(32)
	count := br.TryReadBits(32)
	if br.TryError != nil {
		return 0, fmt.Errorf("read stsz: %w", br.TryError)
	}
	return int64(count), nil
}

// version(8) flags(24) reserved(24) field_size(8) sample_count(32).
func readStz2(r io.ReaderAt, stz2 box) (int64, error) {
	br := payloadReader(r, stz2)
	br.TryReadBits(32)
	br.TryReadBits(24)
	br.TryReadBits(8)
	count := br.TryReadBits(32)
	if br.TryError != nil {
		return 0, fmt.Errorf("read stz2: %w", br.TryError)
	}
	return int64(count), nil
}
