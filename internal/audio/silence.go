package audio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

type SilenceMetrics struct {
	RMSdBFS  float64
	PeakdBFS float64
	Samples  int64
}

// IsSilentWAV reports whether the WAV at path stays below thresholdDBFS. The
// peak is allowed 6 dB of headroom above the threshold so isolated clicks do
// not count as speech.
func IsSilentWAV(path string, thresholdDBFS float64) (bool, SilenceMetrics, error) {
	metrics, err := Measure(path)
	if err != nil {
		return false, SilenceMetrics{}, err
	}

	if metrics.Samples == 0 {
		return true, metrics, nil
	}
	if math.IsInf(metrics.RMSdBFS, -1) && math.IsInf(metrics.PeakdBFS, -1) {
		return true, metrics, nil
	}

	return metrics.RMSdBFS <= thresholdDBFS && metrics.PeakdBFS <= thresholdDBFS+6, metrics, nil
}

// Measure streams the data chunk and returns its RMS and peak level.
func Measure(path string) (SilenceMetrics, error) {
	f, err := os.Open(path)
	if err != nil {
		return SilenceMetrics{}, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	info, err := readInfo(f)
	if err != nil {
		return SilenceMetrics{}, err
	}
	if _, err := f.Seek(info.DataOffset, io.SeekStart); err != nil {
		return SilenceMetrics{}, fmt.Errorf("seek wav data: %w", err)
	}

	width := int(info.BitsPerSample / 8)
	reader := bufio.NewReaderSize(io.LimitReader(f, int64(info.DataSize)), 64*1024)
	sample := make([]byte, width)

	var (
		peak       float64
		sumSquares float64
		samples    int64
	)
	for {
		if _, err := io.ReadFull(reader, sample); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return SilenceMetrics{}, fmt.Errorf("read wav data: %w", err)
		}

		value := decodeSample(sample, info.AudioFormat, info.BitsPerSample)
		if abs := math.Abs(value); abs > peak {
			peak = abs
		}
		sumSquares += value * value
		samples++
	}

	if samples == 0 {
		return SilenceMetrics{RMSdBFS: math.Inf(-1), PeakdBFS: math.Inf(-1)}, nil
	}

	return SilenceMetrics{
		RMSdBFS:  amplitudeToDBFS(math.Sqrt(sumSquares / float64(samples))),
		PeakdBFS: amplitudeToDBFS(peak),
		Samples:  samples,
	}, nil
}

// decodeSample maps one little-endian sample to [-1, 1]. The format was
// already checked by validateFormat.
func decodeSample(b []byte, audioFormat, bitsPerSample uint16) float64 {
	if audioFormat == formatFloat {
		if bitsPerSample == 64 {
			return math.Float64frombits(binary.LittleEndian.Uint64(b))
		}
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	}

	switch bitsPerSample {
	case 8:
		return (float64(b[0]) - 128.0) / 128.0
	case 16:
		return float64(int16(binary.LittleEndian.Uint16(b))) / 32768.0
	case 24:
		v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		if v&0x800000 != 0 {
			v |= ^0xFFFFFF
		}
		return float64(v) / 8388608.0
	default:
		return float64(int32(binary.LittleEndian.Uint32(b))) / 2147483648.0
	}
}

func amplitudeToDBFS(amplitude float64) float64 {
	if amplitude <= 0 {
		return math.Inf(-1)
	}
	return 20.0 * math.Log10(amplitude)
}
