package wyoming

import (
	"fmt"

	"github.com/voxway/voxway/internal/stt"
)

// sttSession collects one utterance: the transcribe event captures the
// language, audio-start the format, audio-chunk the PCM. All mutation
// happens on the reader goroutine.
type sttSession struct {
	language   string
	format     AudioFormat
	haveFormat bool
	buf        []byte
}

func newSTTSession(language string) *sttSession {
	return &sttSession{language: language}
}

func (s *sttSession) setFormat(f AudioFormat) {
	s.format = f
	s.haveFormat = true
}

func (s *sttSession) appendAudio(f AudioFormat, pcm []byte) {
	if !s.haveFormat {
		s.setFormat(f)
	}
	s.buf = append(s.buf, pcm...)
}

// transcribe implements audio-stop: emit transcript-start, stream partials
// as transcript-chunk, then the final transcript and transcript-stop. A
// worker or format error is fatal to the connection.
func (c *Conn) transcribe(sess *sttSession) error {
	if !sess.haveFormat || !sess.format.Valid() {
		c.opts.Metrics.connError(c.ctx)
		return fmt.Errorf("invalid audio format: rate=%d width=%d channels=%d",
			sess.format.Rate, sess.format.Width, sess.format.Channels)
	}

	if err := c.writeEvent(TranscriptStart{Language: sess.language}); err != nil {
		return err
	}

	var partialErr error
	final, err := c.opts.Recognizer.Transcribe(c.ctx, stt.TranscribeRequest{
		PCM:        sess.buf,
		SampleRate: sess.format.Rate,
		Width:      sess.format.Width,
		Channels:   sess.format.Channels,
		Language:   sess.language,
	}, func(partial string) {
		if partialErr != nil {
			return
		}
		partialErr = c.writeEvent(TranscriptChunk{Text: partial})
	})
	if err != nil {
		c.opts.Metrics.connError(c.ctx)
		return fmt.Errorf("transcription failed: %w", err)
	}
	if partialErr != nil {
		return partialErr
	}

	if err := c.writeEvent(Transcript{Text: final, Language: sess.language}); err != nil {
		return err
	}
	if err := c.writeEvent(TranscriptStop{}); err != nil {
		return err
	}

	c.record("stt", map[string]any{
		"language": sess.language,
		"bytes":    len(sess.buf),
		"text":     final,
	})
	return nil
}
