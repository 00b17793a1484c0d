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

// Package videotest writes video files that only contain headers.
package videotest

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/icza/bitio"
	"github.com/stretchr/testify/require"
)

// RIFFChunk returns a RIFF chunk with an even padded payload.
func RIFFChunk(id string, payload []byte) []byte {
	buf := make([]byte, 8, 8+len(payload)+1)
	copy(buf, id)
	binary.LittleEndian.PutUint32(buf[4:], uint32(len(payload)))
	buf = append(buf, payload...)
	if len(payload)%2 == 1 {
		buf = append(buf, 0)
	}
	return buf
}

// RIFFList returns a LIST chunk.
func RIFFList(typ string, children ...[]byte) []byte {
	payload := []byte(typ)
	for _, c := range children {
		payload = append(payload, c...)
	}
	return RIFFChunk("LIST", payload)
}

// Uint32At returns size zero bytes with v written at offset.
func Uint32At(size int, offset int, v uint32) []byte {
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[offset:], v)
	return buf
}

// Header offsets.
const (
	AvihTotalFrames = 16
	StrhLength      = 32
	DmlhTotalFrames = 0
)

// Strh returns a stream header chunk.
func Strh(typ string, length uint32) []byte {
	payload := Uint32At(56, StrhLength, length)
	copy(payload, typ)
	return RIFFChunk("strh", payload)
}

// AVIHeader frame counts of the AVI header chunks.
type AVIHeader struct {
	AvihFrames uint32
	StrhFrames uint32
	DmlhFrames uint32
	OpenDML    bool
	AudioFirst bool
}

// AVI returns a RIFF AVI file.
func AVI(h AVIHeader) []byte {
	streams := [][]byte{
		RIFFList("strl", Strh("vids", h.StrhFrames), RIFFChunk("strf", make([]byte, 40))),
	}
	if h.AudioFirst {
		audio := RIFFList("strl", Strh("auds", 999), RIFFChunk("strf", make([]byte, 17)))
		streams = append([][]byte{audio}, streams...)
	}

	hdrl := [][]byte{RIFFChunk("avih", Uint32At(56, AvihTotalFrames, h.AvihFrames))}
	hdrl = append(hdrl, streams...)
	if h.OpenDML {
		hdrl = append(hdrl,
			RIFFList("odml", RIFFChunk("dmlh", Uint32At(248, DmlhTotalFrames, h.DmlhFrames))))
	}

	payload := []byte("AVI ")
	payload = append(payload, RIFFList("hdrl", hdrl...)...)
	payload = append(payload, RIFFList("movi", RIFFChunk("00dc", []byte{1, 2, 3}))...)
	return RIFFChunk("RIFF", payload)
}

// MP4Box returns a ISO BMFF box.
func MP4Box(typ string, payload ...[]byte) []byte {
	body := bytes.Join(payload, nil)

	var buf bytes.Buffer
	w := bitio.NewWriter(&buf)
	w.TryWriteBits(uint64(8+len(body)), 32)
	w.TryWriteBits(uint64(binary.BigEndian.Uint32([]byte(typ))), 32)
	if _, err := w.Write(body); err != nil {
		panic(err)
	}
	if err := w.Close(); err != nil {
		panic(err)
	}
	if w.TryError != nil {
		panic(w.TryError)
	}
	return buf.Bytes()
}

// FullBoxFields returns version and flags followed by the 32 bit fields.
func FullBoxFields(fields ...uint32) []byte {
	buf := make([]byte, 4+4*len(fields))
	for i, f := range fields {
		binary.BigEndian.PutUint32(buf[4+4*i:], f)
	}
	return buf
}

// MP4Trak returns a track with the handler type and sample count.
func MP4Trak(handler string, samples uint32) []byte {
	hdlr := FullBoxFields(0, binary.BigEndian.Uint32([]byte(handler)), 0, 0, 0)
	return MP4Box("trak",
		MP4Box("tkhd", make([]byte, 84)),
		MP4Box("mdia",
			MP4Box("mdhd", make([]byte, 24)),
			MP4Box("hdlr", hdlr),
			MP4Box("minf",
				MP4Box("stbl",
					MP4Box("stsd", FullBoxFields(0)),
					MP4Box("stsz", FullBoxFields(0, samples))))))
}

// MP4 returns a MP4 file with the moov box before or after mdat.
func MP4(moovFirst bool, traks ...[]byte) []byte {
	ftyp := MP4Box("ftyp", []byte("isom"), make([]byte, 4), []byte("isomiso2"))
	moov := MP4Box("moov", append([][]byte{MP4Box("mvhd", make([]byte, 100))}, traks...)...)
	mdat := MP4Box("mdat", make([]byte, 64))
	if moovFirst {
		return bytes.Join([][]byte{ftyp, moov, mdat}, nil)
	}
	return bytes.Join([][]byte{ftyp, mdat, moov}, nil)
}

// WriteFile writes content to path, parent directories are created.
func WriteFile(t *testing.T, path string, content []byte) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return path
}

// WriteAVI writes an AVI file with a video stream of n frames.
func WriteAVI(t *testing.T, path string, frames uint32) string {
	t.Helper()
	return WriteFile(t, path, AVI(AVIHeader{AvihFrames: frames, StrhFrames: frames}))
}
