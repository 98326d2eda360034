// Package capability aggregates the installed speech programs into the
// payloads the protocol and HTTP surfaces advertise.
package capability

import (
	"sync"

	"github.com/voxway/voxway/internal/stt"
	"github.com/voxway/voxway/internal/tts"
	"github.com/voxway/voxway/internal/wyoming"
)

// Registry answers describe requests and enumeration endpoints from the
// configured backends. Enumerations are captured once at startup; backends
// do not change while the process runs.
type Registry struct {
	program string
	version string

	mu        sync.Mutex
	voices    []tts.VoiceInfo
	languages []string
}

func NewRegistry(program, version string, synth tts.Synthesizer, rec stt.Recognizer) *Registry {
	r := &Registry{program: program, version: version}
	if vl, ok := synth.(tts.VoiceLister); ok {
		r.voices = vl.Voices()
	}
	if ll, ok := rec.(stt.LanguageLister); ok {
		r.languages = ll.Languages()
	}
	return r
}

// Voices returns the installed synthesis voices.
func (r *Registry) Voices() []tts.VoiceInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]tts.VoiceInfo, len(r.voices))
	copy(out, r.voices)
	return out
}

// Languages returns the recognizer locales.
func (r *Registry) Languages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.languages))
	copy(out, r.languages)
	return out
}

// HasVoice reports whether a voice with the given name is installed.
func (r *Registry) HasVoice(name string) bool {
	for _, v := range r.Voices() {
		if v.Name == name {
			return true
		}
	}
	return false
}

// VoiceForLanguage returns the first voice speaking the given language.
func (r *Registry) VoiceForLanguage(language string) (tts.VoiceInfo, bool) {
	for _, v := range r.Voices() {
		for _, l := range v.Languages {
			if l == language {
				return v, true
			}
		}
	}
	return tts.VoiceInfo{}, false
}

// HasLanguage reports whether the recognizer accepts the given locale.
func (r *Registry) HasLanguage(language string) bool {
	for _, l := range r.Languages() {
		if l == language {
			return true
		}
	}
	return false
}

// Info builds the payload answering a describe request.
func (r *Registry) Info() wyoming.Info {
	attribution := wyoming.Attribution{Name: r.program, URL: "https://github.com/voxway/voxway"}

	voices := r.Voices()
	ttsVoices := make([]wyoming.TtsVoice, 0, len(voices))
	for _, v := range voices {
		ttsVoices = append(ttsVoices, wyoming.TtsVoice{
			Name:        v.Name,
			Attribution: attribution,
			Installed:   true,
			Languages:   v.Languages,
			Speakers:    v.Speakers,
		})
	}

	languages := r.Languages()
	models := []wyoming.AsrModel{{
		Name:        "default",
		Attribution: attribution,
		Installed:   true,
		Languages:   languages,
	}}

	return wyoming.Info{
		Asr: []wyoming.AsrProgram{{
			Name:                        r.program,
			Attribution:                 attribution,
			Installed:                   true,
			Version:                     r.version,
			Models:                      models,
			SupportsTranscriptStreaming: true,
		}},
		Tts: []wyoming.TtsProgram{{
			Name:                        r.program,
			Attribution:                 attribution,
			Installed:                   true,
			Version:                     r.version,
			Voices:                      ttsVoices,
			SupportsSynthesizeStreaming: true,
		}},
	}
}
