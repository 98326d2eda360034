package wyoming

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/voxway/voxway/internal/settings"
	"github.com/voxway/voxway/internal/stt"
	"github.com/voxway/voxway/internal/tts"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type staticInfo struct{}

func (staticInfo) Info() Info {
	attribution := Attribution{Name: "voxway", URL: "https://example.org"}
	return Info{
		Asr: []AsrProgram{{Name: "voxway", Attribution: attribution, Installed: true,
			Models: []AsrModel{{Name: "default", Attribution: attribution, Installed: true, Languages: []string{"en-US"}}},
			SupportsTranscriptStreaming: true}},
		Tts: []TtsProgram{{Name: "voxway", Attribution: attribution, Installed: true,
			Voices: []TtsVoice{{Name: "mock-en", Attribution: attribution, Installed: true, Languages: []string{"en-US"}}},
			SupportsSynthesizeStreaming: true}},
	}
}

func (staticInfo) HasVoice(name string) bool { return name == "mock-en" }

func (staticInfo) VoiceForLanguage(language string) (tts.VoiceInfo, bool) {
	if language == "en-US" {
		return tts.VoiceInfo{Name: "mock-en", Languages: []string{"en-US"}}, true
	}
	return tts.VoiceInfo{}, false
}

type staticSettings struct{ s settings.Settings }

func (p staticSettings) Snapshot() settings.Settings { return p.s }

// captureSynth records the texts it is asked to speak and emits one PCM
// chunk per request.
type captureSynth struct {
	mu    sync.Mutex
	texts []string
	pcm   []byte
}

func (c *captureSynth) requested() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.texts))
	copy(out, c.texts)
	return out
}

func (c *captureSynth) Synthesize(ctx context.Context, req tts.SynthRequest) (<-chan tts.Chunk, <-chan error) {
	c.mu.Lock()
	c.texts = append(c.texts, req.Text)
	c.mu.Unlock()

	chunks := make(chan tts.Chunk, 2)
	errs := make(chan error, 1)
	pcm := c.pcm
	if pcm == nil {
		pcm = bytes.Repeat([]byte{7, 9}, 50)
	}
	chunks <- tts.Chunk{SampleRate: 22050, Width: 2, Channels: 1, PCM: pcm}
	chunks <- tts.Chunk{SampleRate: 22050, Width: 2, Channels: 1, Final: true}
	close(chunks)
	close(errs)
	return chunks, errs
}

func startTestServer(t *testing.T, opts Options) net.Addr {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = testLogger()
	}
	if opts.Info == nil {
		opts.Info = staticInfo{}
	}
	if opts.Voices == nil {
		opts.Voices = staticInfo{}
	}
	if opts.Settings == nil {
		opts.Settings = staticSettings{s: settings.Settings{SentencePauseSeconds: 0.05, SynthesisTimeoutSeconds: 5}}
	}
	srv := NewServer("127.0.0.1:0", opts)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(srv.Close)
	if !srv.Running() {
		t.Fatal("server not running after start")
	}
	return srv.Addr()
}

type testClient struct {
	t    *testing.T
	conn net.Conn
	buf  []byte
}

func dialTest(t *testing.T, addr net.Addr) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))
	return &testClient{t: t, conn: conn}
}

func (tc *testClient) send(ev Event) {
	tc.t.Helper()
	frame, err := EncodeEvent(ev)
	if err != nil {
		tc.t.Fatalf("encode event: %v", err)
	}
	wire, err := EncodeFrame(frame)
	if err != nil {
		tc.t.Fatalf("encode frame: %v", err)
	}
	if _, err := tc.conn.Write(wire); err != nil {
		tc.t.Fatalf("write: %v", err)
	}
}

func (tc *testClient) recv() (Event, error) {
	chunk := make([]byte, 4096)
	for {
		frame, consumed, err := DecodeFrame(tc.buf)
		if err != nil {
			return nil, err
		}
		if frame != nil {
			tc.buf = tc.buf[consumed:]
			return DecodeEvent(frame)
		}
		n, err := tc.conn.Read(chunk)
		if n > 0 {
			tc.buf = append(tc.buf, chunk[:n]...)
			continue
		}
		if err != nil {
			return nil, err
		}
	}
}

func (tc *testClient) mustRecv() Event {
	tc.t.Helper()
	ev, err := tc.recv()
	if err != nil {
		tc.t.Fatalf("recv: %v", err)
	}
	return ev
}

// collectUntil receives events until one of the given type arrives.
func (tc *testClient) collectUntil(stopType string) []Event {
	tc.t.Helper()
	var events []Event
	for {
		ev := tc.mustRecv()
		events = append(events, ev)
		if ev.EventType() == stopType {
			return events
		}
	}
}

func TestDescribeInfo(t *testing.T) {
	addr := startTestServer(t, Options{Synth: tts.NewMockSynth(22050, 2, 1), Recognizer: stt.NewMockRecognizer()})
	tc := dialTest(t, addr)

	tc.send(Describe{})
	ev := tc.mustRecv()
	info, ok := ev.(Info)
	if !ok {
		t.Fatalf("expected info, got %s", ev.EventType())
	}
	if len(info.Asr) == 0 || len(info.Tts) == 0 {
		t.Fatalf("info arrays empty: %+v", info)
	}
	if !info.Asr[0].Installed || info.Asr[0].Attribution.Name == "" {
		t.Fatalf("asr program missing installed/attribution: %+v", info.Asr[0])
	}
	if !info.Tts[0].Installed {
		t.Fatalf("tts program not installed: %+v", info.Tts[0])
	}
}

func TestOneShotSynthesize(t *testing.T) {
	addr := startTestServer(t, Options{Synth: tts.NewMockSynth(22050, 2, 1), Recognizer: stt.NewMockRecognizer()})
	tc := dialTest(t, addr)

	tc.send(Synthesize{Text: "Hello world."})
	events := tc.collectUntil(TypeAudioStop)

	start, ok := events[0].(AudioStart)
	if !ok {
		t.Fatalf("expected audio-start first, got %s", events[0].EventType())
	}
	if start.Rate != 22050 || start.Width != 2 || start.Channels != 1 {
		t.Fatalf("unexpected format: %+v", start.AudioFormat)
	}

	var total int
	for _, ev := range events[1 : len(events)-1] {
		chunk, ok := ev.(AudioChunk)
		if !ok {
			t.Fatalf("expected audio-chunk, got %s", ev.EventType())
		}
		if len(chunk.PCM) == 0 || len(chunk.PCM) > 2048 {
			t.Fatalf("chunk payload size %d out of bounds", len(chunk.PCM))
		}
		total += len(chunk.PCM)
	}
	if total == 0 {
		t.Fatal("no audio received")
	}
	if _, ok := events[len(events)-1].(AudioStop); !ok {
		t.Fatal("missing audio-stop")
	}
}

func TestStreamingSynthesizePlain(t *testing.T) {
	synth := &captureSynth{}
	addr := startTestServer(t, Options{Synth: synth, Recognizer: stt.NewMockRecognizer()})
	tc := dialTest(t, addr)

	tc.send(SynthesizeStart{})
	tc.send(SynthesizeChunk{Text: "Hello world. How are"})
	tc.send(SynthesizeChunk{Text: " you?"})
	tc.send(SynthesizeStop{})

	events := tc.collectUntil(TypeSynthesizeStopped)

	// audio-start (audio-chunk)* audio-stop synthesize-stopped
	if _, ok := events[0].(AudioStart); !ok {
		t.Fatalf("expected audio-start first, got %s", events[0].EventType())
	}
	n := len(events)
	if _, ok := events[n-2].(AudioStop); !ok {
		t.Fatalf("expected audio-stop before stopped, got %s", events[n-2].EventType())
	}
	var sawSilence bool
	for _, ev := range events[1 : n-2] {
		chunk, ok := ev.(AudioChunk)
		if !ok {
			t.Fatalf("unexpected %s inside audio stream", ev.EventType())
		}
		if len(chunk.PCM) > 0 && bytes.Equal(chunk.PCM, make([]byte, len(chunk.PCM))) {
			sawSilence = true
		}
	}
	if !sawSilence {
		t.Fatal("expected an inter-sentence silence chunk")
	}

	texts := synth.requested()
	if len(texts) != 2 || texts[0] != "Hello world." || texts[1] != "How are you?" {
		t.Fatalf("unexpected synthesis units: %q", texts)
	}
}

func TestStreamingSynthesizeSSML(t *testing.T) {
	synth := &captureSynth{}
	addr := startTestServer(t, Options{Synth: synth, Recognizer: stt.NewMockRecognizer()})
	tc := dialTest(t, addr)

	tc.send(SynthesizeStart{})
	tc.send(SynthesizeChunk{Text: "<speak><s>One.</s>"})
	tc.send(SynthesizeChunk{Text: "<s>Two.</s></speak>"})
	tc.send(SynthesizeStop{})

	events := tc.collectUntil(TypeSynthesizeStopped)
	if _, ok := events[0].(AudioStart); !ok {
		t.Fatalf("expected audio-start first, got %s", events[0].EventType())
	}
	if _, ok := events[len(events)-2].(AudioStop); !ok {
		t.Fatal("expected audio-stop before synthesize-stopped")
	}

	texts := synth.requested()
	if len(texts) != 2 {
		t.Fatalf("expected 2 ssml chunks, got %q", texts)
	}
	if texts[0] != "<speak><s>One.</s></speak>" || texts[1] != "<speak><s>Two.</s></speak>" {
		t.Fatalf("unexpected ssml chunks: %q", texts)
	}
}

func TestStreamingIgnoresOneShot(t *testing.T) {
	synth := &captureSynth{}
	addr := startTestServer(t, Options{Synth: synth, Recognizer: stt.NewMockRecognizer()})
	tc := dialTest(t, addr)

	tc.send(SynthesizeStart{})
	tc.send(Synthesize{Text: "Should be ignored."})
	tc.send(SynthesizeChunk{Text: "Spoken."})
	tc.send(SynthesizeStop{})

	tc.collectUntil(TypeSynthesizeStopped)

	for _, text := range synth.requested() {
		if text == "Should be ignored." {
			t.Fatal("one-shot synthesize was not ignored during streaming session")
		}
	}
}

func TestTranscribeSession(t *testing.T) {
	addr := startTestServer(t, Options{Synth: tts.NewMockSynth(22050, 2, 1), Recognizer: stt.NewMockRecognizer()})
	tc := dialTest(t, addr)

	tc.send(Transcribe{Language: "en-US"})
	tc.send(AudioStart{AudioFormat: AudioFormat{Rate: 16000, Width: 2, Channels: 1}})
	tc.send(AudioChunk{AudioFormat: AudioFormat{Rate: 16000, Width: 2, Channels: 1}, PCM: bytes.Repeat([]byte{1}, 640)})
	tc.send(AudioChunk{AudioFormat: AudioFormat{Rate: 16000, Width: 2, Channels: 1}, PCM: bytes.Repeat([]byte{2}, 640)})
	tc.send(AudioStop{})

	events := tc.collectUntil(TypeTranscriptStop)

	start, ok := events[0].(TranscriptStart)
	if !ok {
		t.Fatalf("expected transcript-start first, got %s", events[0].EventType())
	}
	if start.Language != "en-US" {
		t.Fatalf("language not echoed: %+v", start)
	}

	var finalSeen bool
	var lastPartial string
	for _, ev := range events[1 : len(events)-1] {
		switch e := ev.(type) {
		case TranscriptChunk:
			if finalSeen {
				t.Fatal("partial after final transcript")
			}
			if len(e.Text) < len(lastPartial) {
				t.Fatalf("partials not growing: %q after %q", e.Text, lastPartial)
			}
			lastPartial = e.Text
		case Transcript:
			if finalSeen {
				t.Fatal("duplicate final transcript")
			}
			finalSeen = true
			if e.Text != "transcript of 1280 bytes" {
				t.Fatalf("unexpected final transcript %q", e.Text)
			}
		default:
			t.Fatalf("unexpected %s in transcript stream", ev.EventType())
		}
	}
	if !finalSeen {
		t.Fatal("no final transcript before transcript-stop")
	}
}

func TestTranscribeInvalidFormatClosesConnection(t *testing.T) {
	addr := startTestServer(t, Options{Synth: tts.NewMockSynth(22050, 2, 1), Recognizer: stt.NewMockRecognizer()})
	tc := dialTest(t, addr)

	tc.send(Transcribe{Language: "en-US"})
	tc.send(AudioStart{AudioFormat: AudioFormat{Rate: 16000, Width: 3, Channels: 1}})
	tc.send(AudioStop{})

	if _, err := tc.recv(); err == nil {
		t.Fatal("expected connection close on invalid audio format")
	}
}

func TestAudioEventsOutsideSessionDiscarded(t *testing.T) {
	addr := startTestServer(t, Options{Synth: tts.NewMockSynth(22050, 2, 1), Recognizer: stt.NewMockRecognizer()})
	tc := dialTest(t, addr)

	tc.send(AudioChunk{AudioFormat: AudioFormat{Rate: 16000, Width: 2, Channels: 1}, PCM: []byte{1, 2}})
	tc.send(AudioStop{})
	tc.send(Describe{})

	ev := tc.mustRecv()
	if _, ok := ev.(Info); !ok {
		t.Fatalf("connection should survive stray audio events, got %s", ev.EventType())
	}
}

func TestMalformedHeaderClosesConnection(t *testing.T) {
	addr := startTestServer(t, Options{Synth: tts.NewMockSynth(22050, 2, 1), Recognizer: stt.NewMockRecognizer()})
	tc := dialTest(t, addr)

	if _, err := tc.conn.Write([]byte("this is not json\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := tc.recv(); err == nil {
		t.Fatal("expected connection close on malformed header")
	}
}
