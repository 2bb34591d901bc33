package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	wavHeaderSize = 44
	wavFormatPCM  = 1
	// wavFormatExtensible wraps a sub-format GUID; browsers and pydub emit it
	// for plain PCM as well.
	wavFormatExtensible = 0xFFFE
)

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE"))
}

// EncodeWAV wraps b in a canonical 44-byte RIFF/WAV PCM16 header.
func EncodeWAV(b Buffer) []byte {
	channels := b.Format.Channels
	if channels <= 0 {
		channels = 1
	}
	dataSize := len(b.Data)
	buf := make([]byte, wavHeaderSize+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(b.Format.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(b.Format.SampleRate*channels*bytesPerSample))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(channels*bytesPerSample))
	binary.LittleEndian.PutUint16(buf[34:36], 16)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], b.Data)
	return buf
}

// DecodeWAV parses a RIFF/WAVE file holding 16-bit PCM. Unknown chunks (LIST,
// fact, ...) are skipped. A data chunk whose declared size overruns the file,
// as written by streaming encoders, is truncated to what is present.
//
// Returns [ErrUnsupportedFormat] for non-WAV input or non-PCM16 encodings and
// [ErrEmptyAudio] when the data chunk holds no samples.
func DecodeWAV(data []byte) (Buffer, error) {
	if !IsWAV(data) {
		return Buffer{}, fmt.Errorf("%w: missing RIFF/WAVE header", ErrUnsupportedFormat)
	}

	var (
		format  Format
		haveFmt bool
	)
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		end := body + size
		if end > len(data) || end < body {
			end = len(data)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return Buffer{}, fmt.Errorf("%w: short fmt chunk", ErrUnsupportedFormat)
			}
			tag := binary.LittleEndian.Uint16(data[body:])
			bits := binary.LittleEndian.Uint16(data[body+14:])
			if (tag != wavFormatPCM && tag != wavFormatExtensible) || bits != 16 {
				return Buffer{}, fmt.Errorf("%w: wav format tag %d with %d bits", ErrUnsupportedFormat, tag, bits)
			}
			format = Format{
				Channels:   int(binary.LittleEndian.Uint16(data[body+2:])),
				SampleRate: int(binary.LittleEndian.Uint32(data[body+4:])),
			}
			haveFmt = true

		case "data":
			if !haveFmt || !format.Valid() {
				return Buffer{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrUnsupportedFormat)
			}
			pcm := data[body:end]
			pcm = pcm[:len(pcm)-len(pcm)%(format.Channels*bytesPerSample)]
			if len(pcm) == 0 {
				return Buffer{}, ErrEmptyAudio
			}
			out := make([]byte, len(pcm))
			copy(out, pcm)
			return Buffer{Format: format, Data: out}, nil
		}

		// Chunks are word aligned.
		off = end + size%2
	}
	return Buffer{}, fmt.Errorf("%w: no data chunk", ErrUnsupportedFormat)
}
