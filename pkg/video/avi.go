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
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// AVI errors.
var (
	ErrChunkSize   = errors.New("invalid chunk size")
	ErrMissingHdrl = errors.New("missing hdrl list")
)

// RIFF chunk, offset and size describe the payload.
type chunk struct {
	id     [4]byte
	offset int64
	size   int64
}

// List type of a LIST chunk.
func (c chunk) listType(r io.ReaderAt) ([4]byte, error) {
	var typ [4]byte
	if c.size < 4 {
		return typ, fmt.Errorf("%w: LIST %d", ErrChunkSize, c.size)
	}
	_, err := r.ReadAt(typ[:], c.offset)
	return typ, err
}

// Chunks in [start, end). Payloads are padded to even sizes.
// If clamp is set a chunk running past end is cut at end.
func readChunks(r io.ReaderAt, start int64, end int64, clamp bool) ([]chunk, error) {
	var chunks []chunk
	header := make([]byte, 8)
	for pos := start; pos+8 <= end; {
		if _, err := r.ReadAt(header, pos); err != nil {
			return nil, fmt.Errorf("read chunk header: %w", err)
		}

		var c chunk
		copy(c.id[:], header[:4])
		c.offset = pos + 8
		c.size = int64(binary.LittleEndian.Uint32(header[4:]))
		if c.offset+c.size > end {
			if !clamp {
				return nil, fmt.Errorf("%w: %q %d", ErrChunkSize, c.id, c.size)
			}
			c.size = end - c.offset
		}
		chunks = append(chunks, c)

		pos = c.offset + c.size + c.size%2
	}
	return chunks, nil
}

func readUint32(r io.ReaderAt, c chunk, offset int64) (uint32, error) {
	if offset+4 > c.size {
		return 0, fmt.Errorf("%w: %q %d", ErrChunkSize, c.id, c.size)
	}
	buf := make([]byte, 4)
	if _, err := r.ReadAt(buf, c.offset+offset); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// Offsets in the header chunks.
const (
	avihTotalFrames = 16
	strhType        = 0
	strhLength      = 32
	dmlhTotalFrames = 0
)

// RIFF AVI layout, only the hdrl list is read.
//
//	RIFF 'AVI '
//	  LIST 'hdrl'
//	    avih
//	    LIST 'strl'
//	      strh
//	      strf
//	    LIST 'odml'
//	      dmlh
//	  LIST 'movi'
//	  idx1
//
// The OpenDML total is the only one that covers
// files larger than 1GB, then the video stream length.
func aviFrameCount(r io.ReaderAt, size int64) (int64, error) {
	riffSize := make([]byte, 4)
	if _, err := r.ReadAt(riffSize, 4); err != nil {
		return 0, fmt.Errorf("read RIFF size: %w", err)
	}
	end := 8 + int64(binary.LittleEndian.Uint32(riffSize))
	if end > size {
		end = size
	}

	// Truncated recordings keep a valid header, the movi list may be cut.
	top, err := readChunks(r, 12, end, true)
	if err != nil {
		return 0, err
	}

	var hdrl *chunk
	for i, c := range top {
		if string(c.id[:]) != "LIST" {
			continue
		}
		typ, err := c.listType(r)
		if err != nil {
			return 0, err
		}
		if string(typ[:]) == "hdrl" {
			hdrl = &top[i]
			break
		}
	}
	if hdrl == nil {
		return 0, ErrMissingHdrl
	}

	headers, err := readChunks(r, hdrl.offset+4, hdrl.offset+hdrl.size, false)
	if err != nil {
		return 0, err
	}

	var avih, dmlh, vidsStrh *chunk
	for i, c := range headers {
		switch string(c.id[:]) {
		case "avih":
			avih = &headers[i]
		case "LIST":
			typ, err := c.listType(r)
			if err != nil {
				return 0, err
			}
			children, err := readChunks(r, c.offset+4, c.offset+c.size, false)
			if err != nil {
				return 0, err
			}
			for j, child := range children {
				switch {
				case string(typ[:]) == "odml" && string(child.id[:]) == "dmlh":
					dmlh = &children[j]
				case string(typ[:]) == "strl" && string(child.id[:]) == "strh":
					if vidsStrh == nil && isVideoStream(r, child) {
						vidsStrh = &children[j]
					}
				}
			}
		}
	}

	if dmlh != nil {
		frames, err := readUint32(r, *dmlh, dmlhTotalFrames)
		if err != nil {
			return 0, err
		}
		if frames != 0 {
			return int64(frames), nil
		}
	}
	if vidsStrh != nil {
		frames, err := readUint32(r, *vidsStrh, strhLength)
		if err != nil {
			return 0, err
		}
		return int64(frames), nil
	}
	if avih != nil {
		frames, err := readUint32(r, *avih, avihTotalFrames)
		if err != nil {
			return 0, err
		}
		return int64(frames), nil
	}
	return 0, ErrNoFrameCount
}

func isVideoStream(r io.ReaderAt, strh chunk) bool {
	if strh.size < strhType+4 {
		return false
	}
	typ := make([]byte, 4)
	if _, err := r.ReadAt(typ, strh.offset+strhType); err != nil {
		return false
	}
	return string(typ) == "vids"
}
