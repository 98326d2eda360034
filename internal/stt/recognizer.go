package stt

import "context"

// TranscribeRequest carries one utterance worth of PCM.
type TranscribeRequest struct {
	PCM        []byte
	SampleRate int
	Width      int
	Channels   int
	Language   string
}

// Recognizer abstracts STT backends. Partial hypotheses are delivered through
// the callback as the recognizer consumes audio; the returned text is the
// final transcript and the call returns only after it is resolved.
type Recognizer interface {
	Transcribe(ctx context.Context, req TranscribeRequest, partial func(text string)) (string, error)
}

// LanguageLister enumerates the locales a recognizer accepts.
type LanguageLister interface {
	Languages() []string
}
