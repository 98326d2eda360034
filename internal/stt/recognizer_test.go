package stt

import (
	"context"
	"strings"
	"testing"
)

func TestMockRecognizerPartialsGrow(t *testing.T) {
	rec := NewMockRecognizer()
	var partials []string
	final, err := rec.Transcribe(context.Background(), TranscribeRequest{
		PCM:        make([]byte, 3200),
		SampleRate: 16000,
		Width:      2,
		Channels:   1,
		Language:   "en-US",
	}, func(text string) {
		partials = append(partials, text)
	})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if final == "" {
		t.Fatal("empty final transcript")
	}
	last := ""
	for _, p := range partials {
		if len(p) <= len(last) || !strings.HasPrefix(p, last) {
			t.Fatalf("partials not monotonically growing: %q then %q", last, p)
		}
		last = p
	}
	if len(partials) > 0 && !strings.HasPrefix(final, last) {
		t.Fatalf("final %q does not extend last partial %q", final, last)
	}
}

func TestMockRecognizerNilPartialCallback(t *testing.T) {
	rec := NewMockRecognizer()
	if _, err := rec.Transcribe(context.Background(), TranscribeRequest{PCM: []byte{1, 2}}, nil); err != nil {
		t.Fatalf("transcribe without callback: %v", err)
	}
}

func TestMockRecognizerLanguages(t *testing.T) {
	rec := NewMockRecognizer()
	lister, ok := rec.(LanguageLister)
	if !ok {
		t.Fatal("mock recognizer must list languages")
	}
	if len(lister.Languages()) == 0 {
		t.Fatal("no languages")
	}
}
