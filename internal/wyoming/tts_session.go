package wyoming

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/voxway/voxway/internal/audio"
	"github.com/voxway/voxway/internal/ssml"
	"github.com/voxway/voxway/internal/text"
	"github.com/voxway/voxway/internal/tts"
)

// ttsSession is the streaming-synthesize state machine. The reader goroutine
// mutates it through appendText/finish; at most one drain goroutine runs at
// a time, so audio emission is single-threaded even though the buffer fills
// concurrently.
type ttsSession struct {
	conn  *Conn
	voice string

	mu       sync.Mutex
	buf      string
	pending  []unit
	ssmlMode bool
	draining bool

	wg sync.WaitGroup

	// Owned by whichever goroutine is currently emitting.
	started   bool
	format    AudioFormat
	plainDone int
	spoken    int
	err       error
}

// unit is one synthesizable piece extracted from the buffer.
type unit struct {
	text  string
	plain bool // sentence units get the inter-sentence pause
}

func newTTSSession(c *Conn, v *Voice) *ttsSession {
	return &ttsSession{conn: c, voice: c.resolveVoice(v)}
}

// appendText adds streamed text and kicks a drain if none is running.
func (s *ttsSession) appendText(t string) {
	s.mu.Lock()
	s.buf += t
	if !s.ssmlMode && ssml.Shaped(s.buf) {
		s.ssmlMode = true
	}
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.mu.Unlock()

	s.wg.Add(1)
	s.conn.workers.Add(1)
	go func() {
		defer s.conn.workers.Done()
		defer s.wg.Done()
		s.drainLoop()
	}()
}

func (s *ttsSession) drainLoop() {
	for {
		u, ok := s.nextUnit()
		if !ok {
			return
		}
		s.synthesizeUnit(u)
	}
}

// nextUnit extracts the next synthesizable piece under the buffer lock. When
// no work remains it clears the draining flag so the next append restarts
// the loop.
func (s *ttsSession) nextUnit() (unit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) > 0 {
		u := s.pending[0]
		s.pending = s.pending[1:]
		return u, true
	}

	if s.ssmlMode {
		if ssml.Complete(s.buf) {
			chunks, rest, err := ssml.Split(s.buf)
			if err != nil {
				// Syntactically SSML-shaped but unparsable: recover by
				// escaping the document and speaking it as one unit.
				doc, tail := splitAfterCloseTag(s.buf)
				s.buf = tail
				s.ssmlMode = ssml.Shaped(tail)
				s.conn.logger.Info("ssml parse failed, escaping buffer", slog.String("error", err.Error()))
				return unit{text: ssml.Wrap(doc)}, true
			}
			s.buf = rest
			s.ssmlMode = ssml.Shaped(rest)
			for _, c := range chunks {
				s.pending = append(s.pending, unit{text: c})
			}
			if len(s.pending) > 0 {
				u := s.pending[0]
				s.pending = s.pending[1:]
				return u, true
			}
		}
		s.draining = false
		return unit{}, false
	}

	sentence, rest, ok := text.FirstSentence(s.buf)
	if !ok {
		s.draining = false
		return unit{}, false
	}
	s.buf = rest
	return unit{text: preparePlain(sentence), plain: true}, true
}

// synthesizeUnit drives the worker for one unit and forwards its PCM as
// audio-chunk frames, inserting the inter-sentence pause between plain
// sentences.
func (s *ttsSession) synthesizeUnit(u unit) {
	if strings.TrimSpace(u.text) == "" {
		return
	}

	snap := s.conn.settingsSnapshot()
	if u.plain && s.plainDone > 0 && snap.SentencePauseSeconds > 0 && s.format.Valid() {
		pause := time.Duration(snap.SentencePauseSeconds * float64(time.Second))
		silence := audio.Silence(pause, s.format.Rate, s.format.Width, s.format.Channels)
		if len(silence) > 0 {
			s.emitPCM(silence)
		}
	}

	deadline := synthesisDeadline(snap.SynthesisTimeoutSeconds, u.text)
	ctx, cancel := context.WithTimeout(s.conn.ctx, deadline)
	defer cancel()

	start := time.Now()
	chunks, errs := s.conn.opts.Synth.Synthesize(ctx, tts.SynthRequest{Text: u.text, Voice: s.voice})
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if len(chunk.PCM) == 0 {
				continue
			}
			if !s.started {
				s.format = AudioFormat{Rate: chunk.SampleRate, Width: chunk.Width, Channels: chunk.Channels}
				if werr := s.conn.writeEvent(AudioStart{AudioFormat: s.format}); werr != nil {
					s.recordErr(werr)
					return
				}
				s.started = true
			}
			s.emitPCM(chunk.PCM)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err == nil {
				continue
			}
			if errors.Is(err, context.DeadlineExceeded) {
				// Deadline expired: keep whatever was captured and move on.
				s.conn.logger.Warn("synthesis deadline expired", slog.Int("text_len", len(u.text)))
				s.conn.opts.Metrics.synthDuration(s.conn.ctx, time.Since(start).Seconds())
				s.plainDone += boolToInt(u.plain)
				return
			}
			if !errors.Is(err, context.Canceled) {
				s.recordErr(err)
			}
		}
	}
	s.conn.opts.Metrics.synthDuration(s.conn.ctx, time.Since(start).Seconds())
	s.plainDone += boolToInt(u.plain)
	s.spoken++
}

func (s *ttsSession) emitPCM(pcm []byte) {
	ev := AudioChunk{AudioFormat: s.format, PCM: pcm}
	if err := s.conn.writeEvent(ev); err != nil {
		s.recordErr(err)
	}
}

func (s *ttsSession) recordErr(err error) {
	if s.err == nil {
		s.err = err
	}
}

// finish implements synthesize-stop: await the in-flight drain, synthesize
// the residue, close the audio stream and acknowledge. A recorded worker
// error is returned after the session completes cleanly, which closes the
// connection.
func (s *ttsSession) finish() error {
	s.wg.Wait()

	for {
		u, ok := s.nextUnit()
		if !ok {
			break
		}
		s.synthesizeUnit(u)
	}

	s.mu.Lock()
	residue := strings.TrimSpace(s.buf)
	inSSML := s.ssmlMode
	s.buf = ""
	s.mu.Unlock()
	if residue != "" {
		if inSSML {
			// Incomplete SSML at stop falls back to escape-and-wrap.
			s.synthesizeUnit(unit{text: ssml.Wrap(residue)})
		} else {
			s.synthesizeUnit(unit{text: preparePlain(residue), plain: true})
		}
	}

	if s.started {
		if err := s.conn.writeEvent(AudioStop{}); err != nil {
			return err
		}
	}
	if err := s.conn.writeEvent(SynthesizeStopped{}); err != nil {
		return err
	}

	s.conn.record("tts", map[string]any{
		"streaming": true,
		"voice":     s.voice,
		"units":     s.spoken,
	})
	return s.err
}

// abandon drops the session on connection teardown; in-flight workers die
// with the connection context.
func (s *ttsSession) abandon() {}

// synthesizeOneShot handles the non-streaming synthesize event: buffer the
// whole synthesis, then emit audio-start, bounded chunks, audio-stop.
func (c *Conn) synthesizeOneShot(e Synthesize) error {
	voice := c.resolveVoice(e.Voice)
	prepared := preparePlain(e.Text)

	snap := c.settingsSnapshot()
	ctx, cancel := context.WithTimeout(c.ctx, synthesisDeadline(snap.SynthesisTimeoutSeconds, prepared))
	defer cancel()

	start := time.Now()
	var pcm []byte
	var format AudioFormat
	chunks, errs := c.opts.Synth.Synthesize(ctx, tts.SynthRequest{Text: prepared, Voice: voice})
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if len(chunk.PCM) == 0 {
				continue
			}
			if !format.Valid() {
				format = AudioFormat{Rate: chunk.SampleRate, Width: chunk.Width, Channels: chunk.Channels}
			}
			pcm = append(pcm, chunk.PCM...)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err == nil {
				continue
			}
			if errors.Is(err, context.DeadlineExceeded) {
				c.logger.Warn("synthesis deadline expired", slog.Int("text_len", len(prepared)))
				errs = nil
				continue
			}
			c.opts.Metrics.connError(c.ctx)
			return err
		}
	}
	c.opts.Metrics.synthDuration(c.ctx, time.Since(start).Seconds())

	if len(pcm) == 0 || !format.Valid() {
		c.logger.Info("synthesis produced no audio", slog.Int("text_len", len(e.Text)))
		return nil
	}

	if err := c.writeEvent(AudioStart{AudioFormat: format}); err != nil {
		return err
	}
	for _, part := range audio.SplitChunks(pcm, format.Width, format.Channels) {
		if err := c.writeEvent(AudioChunk{AudioFormat: format, PCM: part}); err != nil {
			return err
		}
	}
	if err := c.writeEvent(AudioStop{}); err != nil {
		return err
	}

	c.record("tts", map[string]any{
		"streaming": false,
		"voice":     voice,
		"bytes":     len(pcm),
	})
	return nil
}

// preparePlain shields the backend from plain text that looks like markup:
// complete SSML passes through, anything else with angle brackets is escaped
// and wrapped.
func preparePlain(t string) string {
	if ssml.Complete(t) {
		return t
	}
	return ssml.PrepareText(t)
}

func synthesisDeadline(baseSeconds float64, t string) time.Duration {
	if baseSeconds <= 0 {
		baseSeconds = 5
	}
	return time.Duration((baseSeconds + 0.05*float64(len(t))) * float64(time.Second))
}

func splitAfterCloseTag(buf string) (doc, rest string) {
	i := strings.Index(strings.ToLower(buf), "</speak>")
	if i < 0 {
		return buf, ""
	}
	end := i + len("</speak>")
	return buf[:end], buf[end:]
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
