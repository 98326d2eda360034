package tts

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
	"github.com/voxway/voxway/internal/config"
)

// execSynth shells out to an external synthesizer. The command receives one
// JSON request on stdin and streams JSON lines on stdout, each carrying a
// base64 PCM chunk; the last line has final=true and an empty chunk.
type execSynth struct {
	cmd    []string
	cfg    config.TTSConfig
	voices []VoiceInfo
	mu     sync.Mutex
}

type execRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice"`
	SampleRate int    `json:"sample_rate"`
	Width      int    `json:"width"`
	Channels   int    `json:"channels"`
}

type execResponse struct {
	PCMBase64 string `json:"pcm_base64"`
	Final     bool   `json:"final"`
}

func NewExecSynth(cfg config.TTSConfig) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	voices := make([]VoiceInfo, 0, len(cfg.Voices))
	for _, v := range cfg.Voices {
		voices = append(voices, VoiceInfo{Name: v.Name, Languages: v.Languages, Speakers: v.Speakers})
	}
	return &execSynth{cmd: args, cfg: cfg, voices: voices}, nil
}

func (e *execSynth) Voices() []VoiceInfo {
	out := make([]VoiceInfo, len(e.voices))
	copy(out, e.voices)
	return out
}

func (e *execSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan Chunk, <-chan error) {
	e.mu.Lock()
	chunks := make(chan Chunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		defer e.mu.Unlock()

		voice := req.Voice
		if voice == "" {
			voice = e.cfg.Voice
		}
		payload, err := json.Marshal(execRequest{
			Text:       req.Text,
			Voice:      voice,
			SampleRate: e.cfg.SampleRate,
			Width:      e.cfg.Width,
			Channels:   e.cfg.Channels,
		})
		if err != nil {
			errs <- err
			return
		}

		cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			errs <- err
			return
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			errs <- err
			return
		}
		if err := cmd.Start(); err != nil {
			errs <- err
			return
		}

		if _, err := stdin.Write(payload); err != nil {
			errs <- err
			_ = cmd.Wait()
			return
		}
		stdin.Close()

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
		sawFinal := false
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var resp execResponse
			if err := json.Unmarshal(line, &resp); err != nil {
				errs <- fmt.Errorf("decode tts output: %w", err)
				_ = cmd.Wait()
				return
			}
			pcm, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
			if err != nil {
				errs <- fmt.Errorf("decode tts pcm: %w", err)
				_ = cmd.Wait()
				return
			}
			out := Chunk{
				SampleRate: e.cfg.SampleRate,
				Width:      e.cfg.Width,
				Channels:   e.cfg.Channels,
				PCM:        pcm,
				Final:      resp.Final,
			}
			select {
			case chunks <- out:
			case <-ctx.Done():
				errs <- ctx.Err()
				_ = cmd.Wait()
				return
			}
			if resp.Final {
				sawFinal = true
				break
			}
		}
		if err := scanner.Err(); err != nil {
			errs <- err
			_ = cmd.Wait()
			return
		}
		if err := cmd.Wait(); err != nil {
			errs <- fmt.Errorf("tts command: %w", err)
			return
		}
		if !sawFinal {
			// The command exited without a final marker; synthesize one so
			// downstream consumers always observe the end sentinel.
			select {
			case chunks <- Chunk{SampleRate: e.cfg.SampleRate, Width: e.cfg.Width, Channels: e.cfg.Channels, Final: true}:
			case <-ctx.Done():
				errs <- ctx.Err()
			}
		}
	}()
	return chunks, errs
}
