package audio

import (
	"encoding/binary"
	"log/slog"
	"math"
)

// Normalize converts b to the target format. Conversion order: downmix first,
// then resample, so that resampling works on the smallest channel count.
// Mono sources are duplicated when the target has two channels. If b already
// matches target it is returned unchanged.
func Normalize(b Buffer, target Format) Buffer {
	if b.Format == target || !target.Valid() || !b.Format.Valid() {
		return b
	}

	pcm := b.Data
	if len(pcm)%bytesPerSample != 0 {
		slog.Warn("audio: odd byte count in PCM data, truncating", "bytes", len(pcm), "format", b.Format.String())
		pcm = pcm[:len(pcm)-1]
	}
	channels := b.Format.Channels

	if channels != target.Channels {
		switch target.Channels {
		case 1:
			pcm = DownmixToMono(pcm, channels)
			channels = 1
		case 2:
			pcm = MonoToStereo(DownmixToMono(pcm, channels))
			channels = 2
		default:
			slog.Warn("audio: unsupported channel conversion, keeping source layout",
				"from", b.Format.String(), "to", target.String())
		}
	}

	rate := b.Format.SampleRate
	if rate != target.SampleRate {
		pcm = Resample16(pcm, channels, rate, target.SampleRate)
		rate = target.SampleRate
	}

	return Buffer{Format: Format{SampleRate: rate, Channels: channels}, Data: pcm}
}

// MonoToStereo duplicates each int16 mono sample into a stereo L+R pair.
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		j := i * 2
		out[j], out[j+1] = pcm[i], pcm[i+1]
		out[j+2], out[j+3] = pcm[i], pcm[i+1]
	}
	return out
}

// StereoToMono averages L+R per stereo frame.
func StereoToMono(pcm []byte) []byte {
	return DownmixToMono(pcm, 2)
}

// DownmixToMono averages all channels of each interleaved frame into a single
// sample. Sums are held in int32 and clamped to the int16 range. A trailing
// partial frame is dropped.
func DownmixToMono(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frameBytes := channels * bytesPerSample
	frames := len(pcm) / frameBytes
	out := make([]byte, frames*bytesPerSample)
	for i := range frames {
		var sum int32
		for ch := range channels {
			off := i*frameBytes + ch*bytesPerSample
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[off:])))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clamp16(sum/int32(channels))))
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	return Resample16(pcm, 1, srcRate, dstRate)
}

// Resample16 resamples interleaved 16-bit PCM from srcRate to dstRate using
// linear interpolation on each channel. If the rates match or are invalid,
// pcm is returned unchanged.
func Resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	if channels <= 0 {
		channels = 1
	}
	frameBytes := channels * bytesPerSample
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < frameBytes {
		return pcm
	}
	srcFrames := len(pcm) / frameBytes
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*frameBytes)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx
		if idx+1 < srcFrames {
			next = idx + 1
		}
		for ch := range channels {
			s0 := sampleAt(pcm, idx*channels+ch)
			s1 := sampleAt(pcm, next*channels+ch)
			v := int16(math.Round(float64(s0)*(1-frac) + float64(s1)*frac))
			binary.LittleEndian.PutUint16(out[(i*channels+ch)*2:], uint16(v))
		}
	}
	return out
}

// RMS returns the root-mean-square energy of a PCM16 buffer in sample units
// (0 to 32767). Returns 0 for buffers shorter than one sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(sampleAt(pcm, i))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// DurationMs returns the length of a PCM16 chunk in milliseconds for the given
// format. Returns 0 for an invalid format.
func DurationMs(pcm []byte, f Format) int {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return len(pcm) * 1000 / bps
}

// Float32Mono converts interleaved PCM16 to mono float32 samples in [-1, 1],
// averaging channels per frame. This is the sample layout whisper.cpp expects.
func Float32Mono(pcm []byte, channels int) []float32 {
	if channels <= 0 {
		channels = 1
	}
	frames := len(pcm) / (bytesPerSample * channels)
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += float32(sampleAt(pcm, i*channels+ch)) / 32768.0
		}
		out[i] = sum / float32(channels)
	}
	return out
}

func sampleAt(pcm []byte, idx int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[idx*2:]))
}

func clamp16(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
