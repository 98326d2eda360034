package stt

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mattn/go-shellwords"
	"github.com/voxway/voxway/internal/config"
)

// execRecognizer shells out to an external recognizer (typically a
// whisper.cpp wrapper). Audio is handed over as a temp WAV file; the command
// streams JSON lines on stdout, partial hypotheses first, then exactly one
// line with final=true.
type execRecognizer struct {
	cmd []string
	cfg config.STTConfig
	mu  sync.Mutex
}

type execLine struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

func NewExecRecognizer(cfg config.STTConfig) (Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	return &execRecognizer{cmd: args, cfg: cfg}, nil
}

func (r *execRecognizer) Languages() []string {
	out := make([]string, len(r.cfg.LanguagesList))
	copy(out, r.cfg.LanguagesList)
	return out
}

func (r *execRecognizer) Transcribe(ctx context.Context, req TranscribeRequest, partial func(text string)) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := os.CreateTemp(os.TempDir(), "voxway_stt_*.wav")
	if err != nil {
		return "", fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := writePCMToWav(file, req.PCM, req.SampleRate, req.Width, req.Channels); err != nil {
		return "", err
	}

	args := append([]string{}, r.cmd[1:]...)
	args = append(args, "--audio", file.Name())
	if r.cfg.ModelPath != "" {
		args = append(args, "--model", r.cfg.ModelPath)
	}
	if req.Language != "" {
		args = append(args, "--language", req.Language)
	}
	if partial != nil {
		args = append(args, "--partial")
	}

	command := exec.CommandContext(ctx, r.cmd[0], args...)
	stdout, err := command.StdoutPipe()
	if err != nil {
		return "", err
	}
	if err := command.Start(); err != nil {
		return "", fmt.Errorf("start stt command: %w", err)
	}

	var finalText string
	sawFinal := false
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var out execLine
		if err := json.Unmarshal(line, &out); err != nil {
			_ = command.Wait()
			return "", fmt.Errorf("decode stt output: %w", err)
		}
		if out.Final {
			finalText = out.Text
			sawFinal = true
			continue
		}
		if partial != nil {
			partial(out.Text)
		}
	}
	if err := scanner.Err(); err != nil {
		_ = command.Wait()
		return "", err
	}
	if err := command.Wait(); err != nil {
		return "", fmt.Errorf("stt command: %w", err)
	}
	if !sawFinal {
		return "", fmt.Errorf("stt command produced no final transcript")
	}
	return finalText, nil
}

func writePCMToWav(f *os.File, pcm []byte, sampleRate, width, channels int) error {
	bitDepth := width * 8
	enc := wav.NewEncoder(f, sampleRate, bitDepth, channels, 1)

	samples := make([]int, 0, len(pcm)/width)
	switch width {
	case 2:
		for i := 0; i+1 < len(pcm); i += 2 {
			samples = append(samples, int(int16(binary.LittleEndian.Uint16(pcm[i:]))))
		}
	case 4:
		for i := 0; i+3 < len(pcm); i += 4 {
			samples = append(samples, int(int32(binary.LittleEndian.Uint32(pcm[i:]))))
		}
	default:
		return fmt.Errorf("unsupported sample width %d", width)
	}

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav: %w", err)
	}
	return nil
}
