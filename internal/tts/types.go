package tts

import "context"

// SynthRequest contains parameters to synthesize one unit of speech.
type SynthRequest struct {
	Text  string
	Voice string
}

// Chunk contains PCM data in the advertised format. The stream for one
// request ends with a chunk whose PCM is empty and Final is true.
type Chunk struct {
	SampleRate int
	Width      int
	Channels   int
	PCM        []byte
	Final      bool
}

// VoiceInfo describes one installed voice.
type VoiceInfo struct {
	Name      string   `json:"name"`
	Languages []string `json:"languages"`
	Speakers  []string `json:"speakers,omitempty"`
}

// Synthesizer is the contract for producing audio. Within one session calls
// are sequential; distinct sessions may invoke it concurrently.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan Chunk, <-chan error)
}

// VoiceLister enumerates the voices a synthesizer can speak with.
type VoiceLister interface {
	Voices() []VoiceInfo
}
