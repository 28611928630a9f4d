package whisper

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/go-audio/wav"
)

// whisperSampleRate is the only input rate whisper.cpp accepts.
const whisperSampleRate = 16000

// wavFormatPCM is the RIFF format tag for integer PCM.
const wavFormatPCM = 1

var errNotWAV = errors.New("audio is not a PCM WAV file")

// decodeWAV parses a RIFF/WAV file and returns mono float32 samples at
// whisperSampleRate, normalised to [-1.0, 1.0].
func decodeWAV(data []byte) ([]float32, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return nil, errNotWAV
	}
	if d.WavAudioFormat != wavFormatPCM {
		return nil, fmt.Errorf("%w: format tag %d", errNotWAV, d.WavAudioFormat)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 || buf.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: missing format chunk", errNotWAV)
	}
	mono := intsToFloat32Mono(buf.Data, buf.Format.NumChannels, int(d.BitDepth))
	return resampleLinear(mono, buf.Format.SampleRate, whisperSampleRate), nil
}

// intsToFloat32Mono down-mixes interleaved integer samples of the given bit
// depth to mono float32 by averaging all channels per frame. 8-bit WAV data
// is unsigned and centred on 128; wider depths are signed. A trailing
// incomplete frame is ignored.
func intsToFloat32Mono(data []int, channels, bitDepth int) []float32 {
	if channels <= 0 {
		channels = 1
	}
	var (
		scale  float32
		offset int
	)
	switch {
	case bitDepth == 8:
		scale, offset = 128, 128
	case bitDepth > 8 && bitDepth <= 32:
		scale = float32(int64(1) << (bitDepth - 1))
	default:
		scale = 32768
	}

	frames := len(data) / channels
	mono := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += float32(data[i*channels+ch]-offset) / scale
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// resampleLinear converts samples from rate from to rate to using linear
// interpolation. It returns in unchanged when the rates match.
func resampleLinear(in []float32, from, to int) []float32 {
	if from == to || from <= 0 || to <= 0 || len(in) == 0 {
		return in
	}
	n := int(int64(len(in)) * int64(to) / int64(from))
	out := make([]float32, n)
	step := float64(from) / float64(to)
	last := len(in) - 1
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= last {
			out[i] = in[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = in[idx] + (in[idx+1]-in[idx])*frac
	}
	return out
}
