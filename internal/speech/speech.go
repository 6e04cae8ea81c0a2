// Package speech transcribes voice notes by shelling out to a local
// speech-to-text CLI such as whisper.cpp.
package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"taskbot/pkg/logx"
)

var (
	ErrUnavailable      = errors.New("speech: transcriber unavailable")
	ErrUnsupportedAudio = errors.New("speech: unsupported audio format")
	ErrEmptyTranscript  = errors.New("speech: empty transcript")
)

type Transcriber interface {
	Transcribe(ctx context.Context, path, lang string) (string, error)
}

// Config describes the external command. "{input}" and "{lang}" in Args
// are substituted; without an "{input}" placeholder the path is appended.
type Config struct {
	Command  string
	Args     []string
	Language string
	Timeout  time.Duration
}

type Command struct {
	cfg Config
	log logx.Logger
}

func NewCommand(cfg Config, log logx.Logger) *Command {
	if cfg.Language == "" {
		cfg.Language = "fa"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Command{cfg: cfg, log: log.With(logx.String("comp", "speech"))}
}

func (c *Command) Enabled() bool { return c != nil && strings.TrimSpace(c.cfg.Command) != "" }

// Transcribe returns the command's trimmed stdout for the audio at path.
func (c *Command) Transcribe(ctx context.Context, path, lang string) (string, error) {
	if !c.Enabled() {
		return "", ErrUnavailable
	}
	if lang == "" {
		lang = c.cfg.Language
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("speech: sniff %s: %w", path, err)
	}
	if !isAudio(mt) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedAudio, mt.String())
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	args := expandArgs(c.cfg.Args, path, lang)
	cmd := exec.CommandContext(ctx, c.cfg.Command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr

	started := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("speech: %w", ctx.Err())
		}
		return "", fmt.Errorf("speech: %s failed: %w: %s", c.cfg.Command, err, strings.TrimSpace(lastLine(stderr.String())))
	}
	text := strings.TrimSpace(stdout.String())
	c.log.Debug("transcribed", logx.String("mime", mt.String()), logx.Duration("took", time.Since(started)), logx.Int("chars", len(text)))
	if text == "" {
		return "", ErrEmptyTranscript
	}
	return text, nil
}

func isAudio(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "audio/") || m.Is("application/ogg") {
			return true
		}
	}
	return false
}

func expandArgs(tmpl []string, path, lang string) []string {
	out := make([]string, 0, len(tmpl)+1)
	hasInput := false
	for _, a := range tmpl {
		if strings.Contains(a, "{input}") {
			hasInput = true
		}
		a = strings.ReplaceAll(a, "{input}", path)
		out = append(out, strings.ReplaceAll(a, "{lang}", lang))
	}
	if !hasInput {
		out = append(out, path)
	}
	return out
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
