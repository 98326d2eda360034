package wyoming

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/voxway/voxway/internal/settings"
	"github.com/voxway/voxway/internal/stt"
	"github.com/voxway/voxway/internal/tts"
)

// InfoProvider answers describe requests.
type InfoProvider interface {
	Info() Info
}

// VoiceDirectory resolves voice selectors against the installed voices.
type VoiceDirectory interface {
	HasVoice(name string) bool
	VoiceForLanguage(language string) (tts.VoiceInfo, bool)
}

// SettingsProvider exposes the current settings snapshot.
type SettingsProvider interface {
	Snapshot() settings.Settings
}

// Recorder persists finished interactions. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(ctx context.Context, surface, kind string, detail any)
}

// Options wires a server's collaborators.
type Options struct {
	Logger     *slog.Logger
	Synth      tts.Synthesizer
	Recognizer stt.Recognizer
	Info       InfoProvider
	Voices     VoiceDirectory
	Settings   SettingsProvider
	Recorder   Recorder
	Metrics    *Metrics
}

// Server accepts Wyoming TCP connections and runs one handler per
// connection.
type Server struct {
	addr    string
	opts    Options
	base    *slog.Logger
	logger  *slog.Logger
	ln      net.Listener
	mu      sync.Mutex
	conns   map[*Conn]struct{}
	wg      sync.WaitGroup
	running atomic.Bool
	closing atomic.Bool
}

func NewServer(addr string, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:   addr,
		opts:   opts,
		base:   logger,
		logger: logger.With(slog.String("component", "wyoming-server")),
		conns:  make(map[*Conn]struct{}),
	}
}

// Start binds the listener and begins accepting. It returns once the
// listener is bound; accepting continues until Close or a listener failure.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.running.Store(true)
	s.logger.Info("wyoming server listening", slog.String("addr", ln.Addr().String()))

	s.wg.Add(1)
	go s.acceptLoop(ctx)
	return nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Running reports whether the listener is still accepting.
func (s *Server) Running() bool { return s.running.Load() }

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			s.running.Store(false)
			if s.closing.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("accept failed", slog.String("error", err.Error()))
			s.opts.Metrics.connError(ctx)
			return
		}

		conn := newConn(nc, &s.opts, s.base)
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
			}()
			conn.serve(ctx)
		}()
	}
}

// Close stops the listener, cancels every connection and waits for the
// handlers to drain.
func (s *Server) Close() {
	s.closing.Store(true)
	s.running.Store(false)
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.mu.Lock()
	for conn := range s.conns {
		conn.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}
