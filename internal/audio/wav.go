package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// WAV container constants. The firmware is strict about headers, so the
// encoder always emits the minimal canonical layout: RIFF header, 16-byte
// fmt chunk (integer PCM), data chunk.
const (
	wavHeaderSize = 44
	wavFormatPCM  = 1
)

// EncodeWAV wraps a PCM clip in a canonical WAV container. Header fields are
// derived from the clip's encoding exactly; two clips with identical data and
// encoding produce byte-identical files.
func EncodeWAV(c Clip) ([]byte, error) {
	if err := c.validate(); err != nil {
		return nil, &DecodeError{Reason: "invalid clip", Cause: err}
	}

	e := c.Encoding
	byteRate := e.SampleRate * e.BytesPerFrame()
	// Chunks are word-aligned: an odd-length payload (possible with 8-bit
	// mono) gets a pad byte that is counted in the RIFF size but not in the
	// data chunk size.
	pad := len(c.Data) % 2
	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(c.Data)+pad))

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(c.Data)+pad)) //nolint:errcheck
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))                //nolint:errcheck
	binary.Write(buf, binary.LittleEndian, uint16(wavFormatPCM))      //nolint:errcheck
	binary.Write(buf, binary.LittleEndian, uint16(e.Channels))        //nolint:errcheck
	binary.Write(buf, binary.LittleEndian, uint32(e.SampleRate))      //nolint:errcheck
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))          //nolint:errcheck
	binary.Write(buf, binary.LittleEndian, uint16(e.BytesPerFrame())) //nolint:errcheck
	binary.Write(buf, binary.LittleEndian, uint16(e.BitDepth))        //nolint:errcheck

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(c.Data))) //nolint:errcheck
	buf.Write(c.Data)
	if pad == 1 {
		buf.WriteByte(0)
	}

	return buf.Bytes(), nil
}

// DecodeWAV parses a WAV container back into a PCM clip. Only integer PCM is
// accepted. Unknown chunks before the data chunk are skipped.
func DecodeWAV(data []byte) (Clip, error) {
	if len(data) < wavHeaderSize {
		return Clip{}, &DecodeError{Reason: fmt.Sprintf("file too short (%d bytes)", len(data))}
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Clip{}, &DecodeError{Reason: "not a RIFF/WAVE file"}
	}

	var enc Encoding
	sawFmt := false
	pos := 12
	for pos+8 <= len(data) {
		chunkID := string(data[pos : pos+4])
		chunkLen := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+chunkLen > len(data) {
			return Clip{}, &DecodeError{Reason: fmt.Sprintf("truncated %q chunk", chunkID)}
		}

		switch chunkID {
		case "fmt ":
			if chunkLen < 16 {
				return Clip{}, &DecodeError{Reason: "fmt chunk too short"}
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != wavFormatPCM {
				return Clip{}, &DecodeError{Reason: fmt.Sprintf("unsupported format code %d", format)}
			}
			enc.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			enc.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			enc.BitDepth = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			sawFmt = true
		case "data":
			if !sawFmt {
				return Clip{}, &DecodeError{Reason: "data chunk before fmt chunk"}
			}
			c := Clip{Data: data[body : body+chunkLen], Encoding: enc}
			if err := c.validate(); err != nil {
				return Clip{}, &DecodeError{Reason: "invalid PCM payload", Cause: err}
			}
			return c, nil
		}

		// Chunks are word-aligned.
		pos = body + chunkLen + chunkLen%2
	}
	return Clip{}, &DecodeError{Reason: "no data chunk"}
}
