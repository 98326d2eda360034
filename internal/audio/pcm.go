// Package audio holds small PCM helpers shared by the session machines.
package audio

import (
	"encoding/binary"
	"time"
)

// MaxChunkBytes is the payload ceiling for one audio-chunk frame.
const MaxChunkBytes = 2048

// Silence returns d seconds of silent PCM at the given format, aligned to a
// whole number of sample frames.
func Silence(d time.Duration, rate, width, channels int) []byte {
	if d <= 0 || rate <= 0 || width <= 0 || channels <= 0 {
		return nil
	}
	frame := width * channels
	frames := int(float64(rate) * d.Seconds())
	return make([]byte, frames*frame)
}

// SplitChunks slices pcm into chunks of at most MaxChunkBytes, aligned to
// whole sample frames so no frame straddles a chunk boundary.
func SplitChunks(pcm []byte, width, channels int) [][]byte {
	if len(pcm) == 0 {
		return nil
	}
	frame := width * channels
	if frame <= 0 {
		frame = 1
	}
	step := MaxChunkBytes - MaxChunkBytes%frame
	if step <= 0 {
		step = frame
	}
	var out [][]byte
	for off := 0; off < len(pcm); off += step {
		end := off + step
		if end > len(pcm) {
			end = len(pcm)
		}
		out = append(out, pcm[off:end])
	}
	return out
}

// Resample converts 16-bit mono PCM between sample rates by linear
// interpolation. Same-rate input is returned unchanged.
func Resample(pcm []byte, fromRate, toRate int) []byte {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 || len(pcm) < 2 {
		return pcm
	}
	in := make([]int16, len(pcm)/2)
	for i := range in {
		in[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	n := int(int64(len(in)) * int64(toRate) / int64(fromRate))
	if n == 0 {
		return nil
	}
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		pos := float64(i) * float64(fromRate) / float64(toRate)
		j := int(pos)
		if j >= len(in)-1 {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(in[len(in)-1]))
			continue
		}
		frac := pos - float64(j)
		v := float64(in[j])*(1-frac) + float64(in[j+1])*frac
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}
