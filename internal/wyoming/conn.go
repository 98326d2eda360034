package wyoming

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/voxway/voxway/internal/settings"
)

// Conn handles one client connection. The reader goroutine owns the receive
// buffer and the session state; outbound frames funnel through a single
// serialized writer so audio streams never interleave mid-frame.
type Conn struct {
	nc     net.Conn
	opts   *Options
	logger *slog.Logger

	ctx       context.Context
	cancelCtx context.CancelFunc

	writeMu sync.Mutex
	workers sync.WaitGroup

	tts *ttsSession
	stt *sttSession
}

func newConn(nc net.Conn, opts *Options, logger *slog.Logger) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		nc:        nc,
		opts:      opts,
		logger:    logger.With(slog.String("component", "wyoming-conn"), slog.String("remote", nc.RemoteAddr().String())),
		ctx:       ctx,
		cancelCtx: cancel,
	}
}

func (c *Conn) cancel() {
	c.cancelCtx()
	_ = c.nc.Close()
}

func (c *Conn) serve(parent context.Context) {
	defer c.workers.Wait()
	defer c.cancelCtx()
	defer c.nc.Close()

	c.opts.Metrics.connOpened(parent)
	defer c.opts.Metrics.connClosed(parent)

	stop := context.AfterFunc(parent, func() { c.cancel() })
	defer stop()

	var buf []byte
	chunk := make([]byte, 4096)
	for {
		n, err := c.nc.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			rest, err := c.drainFrames(buf)
			if err != nil {
				c.fail(err)
				return
			}
			buf = rest
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.logger.Debug("read failed", slog.String("error", err.Error()))
			}
			c.shutdownSessions()
			return
		}
	}
}

// drainFrames decodes and dispatches every complete frame in buf, returning
// the unconsumed remainder.
func (c *Conn) drainFrames(buf []byte) ([]byte, error) {
	for {
		frame, consumed, err := DecodeFrame(buf)
		if err != nil {
			return nil, err
		}
		if frame == nil {
			return buf, nil
		}
		buf = buf[consumed:]

		ev, err := DecodeEvent(frame)
		if err != nil {
			return nil, err
		}
		if err := c.handleEvent(ev); err != nil {
			return nil, err
		}
	}
}

// handleEvent runs on the reader goroutine; a returned error is fatal to the
// connection.
func (c *Conn) handleEvent(ev Event) error {
	switch e := ev.(type) {
	case Describe:
		return c.writeEvent(c.opts.Info.Info())

	case Synthesize:
		if c.tts != nil {
			// A streaming session owns the audio channel; one-shot requests
			// arriving meanwhile are dropped.
			c.logger.Info("ignoring synthesize during streaming session")
			return nil
		}
		return c.synthesizeOneShot(e)

	case SynthesizeStart:
		if c.tts != nil {
			c.logger.Info("ignoring synthesize-start during active session")
			return nil
		}
		c.opts.Metrics.ttsSession(c.ctx)
		c.tts = newTTSSession(c, e.Voice)
		return nil

	case SynthesizeChunk:
		if c.tts == nil {
			c.logger.Info("ignoring synthesize-chunk without session")
			return nil
		}
		c.tts.appendText(e.Text)
		return nil

	case SynthesizeStop:
		if c.tts == nil {
			c.logger.Info("ignoring synthesize-stop without session")
			return nil
		}
		sess := c.tts
		c.tts = nil
		return sess.finish()

	case Transcribe:
		if c.stt != nil {
			c.logger.Info("ignoring transcribe during active session")
			return nil
		}
		c.opts.Metrics.sttSession(c.ctx)
		c.stt = newSTTSession(e.Language)
		return nil

	case AudioStart:
		if c.stt == nil {
			return nil
		}
		c.stt.setFormat(e.AudioFormat)
		return nil

	case AudioChunk:
		if c.stt == nil {
			return nil
		}
		c.stt.appendAudio(e.AudioFormat, e.PCM)
		return nil

	case AudioStop:
		if c.stt == nil {
			return nil
		}
		sess := c.stt
		c.stt = nil
		return c.transcribe(sess)

	default:
		// Server-to-client events arriving from a client are state
		// violations: logged and dropped.
		c.logger.Info("ignoring unexpected event", slog.String("type", ev.EventType()))
		return nil
	}
}

func (c *Conn) writeEvent(ev Event) error {
	frame, err := EncodeEvent(ev)
	if err != nil {
		return err
	}
	wire, err := EncodeFrame(frame)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.nc.Write(wire)
	return err
}

func (c *Conn) fail(err error) {
	c.logger.Warn("connection error", slog.String("error", err.Error()))
	c.opts.Metrics.connError(c.ctx)
	c.shutdownSessions()
}

func (c *Conn) shutdownSessions() {
	if c.tts != nil {
		c.tts.abandon()
		c.tts = nil
	}
	c.stt = nil
}

// resolveVoice applies the resolution order: explicit name, explicit
// language, persisted default, backend default.
func (c *Conn) resolveVoice(v *Voice) string {
	if v != nil {
		if v.Name != "" {
			return v.Name
		}
		if v.Language != "" && c.opts.Voices != nil {
			if info, ok := c.opts.Voices.VoiceForLanguage(v.Language); ok {
				return info.Name
			}
		}
	}
	if c.opts.Settings != nil {
		if name := c.opts.Settings.Snapshot().TTSVoice; name != "" {
			return name
		}
	}
	return ""
}

func (c *Conn) settingsSnapshot() settings.Settings {
	if c.opts.Settings == nil {
		return settings.Default()
	}
	return c.opts.Settings.Snapshot()
}

func (c *Conn) record(kind string, detail any) {
	if c.opts.Recorder != nil {
		c.opts.Recorder.Record(c.ctx, "wyoming", kind, detail)
	}
}
