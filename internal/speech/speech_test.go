package speech

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"testing"

	"taskbot/pkg/logx"
)

func writeOgg(t *testing.T) string {
	t.Helper()
	b := append([]byte("OggS"), make([]byte, 24)...)
	b = append(b, []byte("OpusHead")...)
	b = append(b, make([]byte, 64)...)
	p := filepath.Join(t.TempDir(), "voice.ogg")
	if err := os.WriteFile(p, b, 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestExpandArgs(t *testing.T) {
	t.Parallel()
	got := expandArgs([]string{"-l", "{lang}", "-f", "{input}"}, "/a.ogg", "fa")
	if want := []string{"-l", "fa", "-f", "/a.ogg"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	got = expandArgs([]string{"--language={lang}"}, "/a.ogg", "en")
	if want := []string{"--language=en", "/a.ogg"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestTranscribe_Disabled(t *testing.T) {
	t.Parallel()
	var c *Command
	if _, err := c.Transcribe(context.Background(), "x", ""); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("nil: err = %v", err)
	}
	if _, err := NewCommand(Config{}, logx.Nop()).Transcribe(context.Background(), "x", ""); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("empty command: err = %v", err)
	}
}

func TestTranscribe_RunsCommand(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	c := NewCommand(Config{Command: "sh", Args: []string{"-c", `printf ' salam %s \n' "$0"`, "{lang}"}}, logx.Nop())
	got, err := c.Transcribe(context.Background(), writeOgg(t), "")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "salam fa" {
		t.Fatalf("got %q", got)
	}
}

func TestTranscribe_Errors(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	ctx := context.Background()

	txt := filepath.Join(t.TempDir(), "note.txt")
	_ = os.WriteFile(txt, []byte("just some text, not audio\n"), 0o600)
	ok := NewCommand(Config{Command: "sh", Args: []string{"-c", "echo hi"}}, logx.Nop())
	if _, err := ok.Transcribe(ctx, txt, ""); !errors.Is(err, ErrUnsupportedAudio) {
		t.Fatalf("text file: err = %v", err)
	}

	empty := NewCommand(Config{Command: "sh", Args: []string{"-c", "true"}}, logx.Nop())
	if _, err := empty.Transcribe(ctx, writeOgg(t), ""); !errors.Is(err, ErrEmptyTranscript) {
		t.Fatalf("empty: err = %v", err)
	}

	fail := NewCommand(Config{Command: "sh", Args: []string{"-c", "echo boom >&2; exit 3"}}, logx.Nop())
	if _, err := fail.Transcribe(ctx, writeOgg(t), ""); err == nil {
		t.Fatal("want error from failing command")
	}
}
