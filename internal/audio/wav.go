package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	wavHeaderSize = 44
	wavFormatPCM  = 1
)

// ErrInvalidWAV is returned by DecodeWAV for data that is not 16-bit PCM WAV.
var ErrInvalidWAV = errors.New("invalid WAV data")

// Format describes raw S16LE PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// EncodeWAV wraps S16LE PCM in a canonical 44-byte RIFF header.
func EncodeWAV(pcm []byte, format Format) []byte {
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcm))

	blockAlign := format.Channels * bytesPerSample
	byteRate := format.SampleRate * blockAlign

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(wavFormatPCM))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(format.Channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(format.SampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bytesPerSample*8))

	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// DecodeWAV returns the PCM payload and format of a 16-bit PCM WAV file.
// Chunks other than "fmt " and "data" are skipped.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, Format{}, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}

	var (
		format    Format
		sawFormat bool
	)

	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8

		if size < 0 || body+size > len(data) {
			// tolerate a data chunk truncated by an interrupted writer
			if id == "data" && sawFormat {
				return data[body:], format, nil
			}

			return nil, Format{}, fmt.Errorf("%w: chunk %q overruns file", ErrInvalidWAV, id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, Format{}, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}

			audioFormat := binary.LittleEndian.Uint16(data[body:])
			bits := binary.LittleEndian.Uint16(data[body+14:])
			if audioFormat != wavFormatPCM || bits != bytesPerSample*8 {
				return nil, Format{}, fmt.Errorf("%w: want 16-bit PCM, got format %d with %d bits",
					ErrInvalidWAV, audioFormat, bits)
			}

			format.Channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			format.SampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			sawFormat = true

		case "data":
			if !sawFormat {
				return nil, Format{}, fmt.Errorf("%w: data before fmt chunk", ErrInvalidWAV)
			}

			return data[body : body+size], format, nil
		}

		// chunks are word aligned
		pos = body + size + size%2
	}

	return nil, Format{}, fmt.Errorf("%w: no data chunk", ErrInvalidWAV)
}
