package stt

import (
	"context"
	"fmt"
	"strings"
)

type mockRecognizer struct {
	languages []string
}

// NewMockRecognizer returns a recognizer that derives a deterministic
// transcript from the audio length and emits monotonically growing partials.
func NewMockRecognizer() Recognizer {
	return &mockRecognizer{languages: []string{"en-US", "de-DE"}}
}

func (m *mockRecognizer) Languages() []string {
	out := make([]string, len(m.languages))
	copy(out, m.languages)
	return out
}

func (m *mockRecognizer) Transcribe(ctx context.Context, req TranscribeRequest, partial func(text string)) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	final := fmt.Sprintf("transcript of %d bytes", len(req.PCM))
	if partial != nil {
		words := strings.Fields(final)
		for i := 1; i < len(words); i++ {
			partial(strings.Join(words[:i], " "))
		}
	}
	return final, nil
}
