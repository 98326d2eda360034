package tts

import (
	"context"
	"time"
)

type mockSynth struct {
	sampleRate int
	width      int
	channels   int
	voices     []VoiceInfo
}

// NewMockSynth returns a synthesizer that produces deterministic PCM sized
// proportionally to the input text. Useful for bring-up and tests.
func NewMockSynth(sampleRate, width, channels int) Synthesizer {
	return &mockSynth{
		sampleRate: sampleRate,
		width:      width,
		channels:   channels,
		voices: []VoiceInfo{
			{Name: "mock-en", Languages: []string{"en-US"}},
			{Name: "mock-de", Languages: []string{"de-DE"}},
		},
	}
}

func (m *mockSynth) Voices() []VoiceInfo {
	out := make([]VoiceInfo, len(m.voices))
	copy(out, m.voices)
	return out
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk, 4)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		select {
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		case <-time.After(5 * time.Millisecond):
		}

		frame := m.width * m.channels
		n := len(req.Text) * 64 * frame
		if n == 0 {
			n = frame
		}
		pcm := make([]byte, n)
		for i := range pcm {
			pcm[i] = byte(i + len(req.Text))
		}
		select {
		case chunks <- Chunk{SampleRate: m.sampleRate, Width: m.width, Channels: m.channels, PCM: pcm}:
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		}
		select {
		case chunks <- Chunk{SampleRate: m.sampleRate, Width: m.width, Channels: m.channels, Final: true}:
		case <-ctx.Done():
			errs <- ctx.Err()
		}
	}()
	return chunks, errs
}
