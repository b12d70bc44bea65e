package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	ErrUnsupportedWAV = errors.New("unsupported wav format")
	ErrInvalidWAV     = errors.New("invalid wav file")
)

const (
	formatPCM   = 1
	formatFloat = 3
)

// Info describes the fmt and data chunks of a RIFF/WAVE file.
type Info struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
	DataOffset    int64
	DataSize      uint32
}

// IsPCM16Mono reports whether the file is 16-bit signed PCM, one channel, at
// the given sample rate.
func (i Info) IsPCM16Mono(sampleRate uint32) bool {
	return i.AudioFormat == formatPCM && i.BitsPerSample == 16 && i.Channels == 1 && i.SampleRate == sampleRate
}

func (i Info) String() string {
	kind := "pcm"
	if i.AudioFormat == formatFloat {
		kind = "float"
	}
	return fmt.Sprintf("%s %d-bit %dch %dHz", kind, i.BitsPerSample, i.Channels, i.SampleRate)
}

func Inspect(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	return readInfo(f)
}

func readInfo(r io.ReadSeeker) (Info, error) {
	header := make([]byte, 12)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Info{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
		}
		return Info{}, fmt.Errorf("read wav header: %w", err)
	}
	if string(header[:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return Info{}, ErrInvalidWAV
	}

	var (
		info    Info
		hasFmt  bool
		hasData bool
	)

	chunk := make([]byte, 8)
	for !(hasFmt && hasData) {
		if _, err := io.ReadFull(r, chunk); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return Info{}, fmt.Errorf("read wav chunk header: %w", err)
		}

		id := string(chunk[:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])
		padded := int64(size) + int64(size%2)

		switch id {
		case "fmt ":
			if size < 16 {
				return Info{}, ErrInvalidWAV
			}
			buf := make([]byte, size)
			if _, err := io.ReadFull(r, buf); err != nil {
				return Info{}, fmt.Errorf("read wav fmt chunk: %w", err)
			}
			if size%2 != 0 {
				if _, err := r.Seek(1, io.SeekCurrent); err != nil {
					return Info{}, fmt.Errorf("skip wav fmt padding: %w", err)
				}
			}
			info.AudioFormat = binary.LittleEndian.Uint16(buf[0:2])
			info.Channels = binary.LittleEndian.Uint16(buf[2:4])
			info.SampleRate = binary.LittleEndian.Uint32(buf[4:8])
			info.BitsPerSample = binary.LittleEndian.Uint16(buf[14:16])
			hasFmt = true
		case "data":
			offset, err := r.Seek(0, io.SeekCurrent)
			if err != nil {
				return Info{}, fmt.Errorf("seek wav data chunk: %w", err)
			}
			info.DataOffset = offset
			info.DataSize = size
			hasData = true
			if _, err := r.Seek(padded, io.SeekCurrent); err != nil {
				return Info{}, fmt.Errorf("skip wav data chunk: %w", err)
			}
		default:
			if _, err := r.Seek(padded, io.SeekCurrent); err != nil {
				return Info{}, fmt.Errorf("skip wav chunk %q: %w", id, err)
			}
		}
	}

	if !hasFmt || !hasData {
		return Info{}, ErrInvalidWAV
	}
	if err := validateFormat(info.AudioFormat, info.BitsPerSample); err != nil {
		return Info{}, err
	}
	return info, nil
}

func validateFormat(audioFormat, bitsPerSample uint16) error {
	switch audioFormat {
	case formatPCM:
		switch bitsPerSample {
		case 8, 16, 24, 32:
			return nil
		}
	case formatFloat:
		switch bitsPerSample {
		case 32, 64:
			return nil
		}
	}
	return ErrUnsupportedWAV
}
