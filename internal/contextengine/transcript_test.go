package contextengine

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTranscriptPathDerivation(t *testing.T) {
	got := transcriptPath("/home/dev/my-project", "mem-123")
	if filepath.Base(got) != "mem-123.jsonl" {
		t.Errorf("expected file mem-123.jsonl, got %q", got)
	}
	if !contains(got, "-home-dev-my-project") {
		t.Errorf("expected dashed cwd segment, got %q", got)
	}
}

func TestLastAssistantMessageMissingFile(t *testing.T) {
	if got := lastAssistantMessage("/nonexistent/cwd/for/test", "no-such-session"); got != "" {
		t.Errorf("expected empty string for missing transcript, got %q", got)
	}
}

func TestLastAssistantMessageEmptyMemorySessionID(t *testing.T) {
	if got := lastAssistantMessage("/anything", ""); got != "" {
		t.Errorf("expected empty string when memorySessionID is empty, got %q", got)
	}
}

func TestLastAssistantMessageToleratesMalformedLines(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cwd := "/home/dev/my-project"
	path := transcriptPath(cwd, "sess")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	content := "not json at all\n" +
		`{"type":"message","message":{"role":"user","content":"hi"}}` + "\n" +
		`{"type":"message","message":{"role":"assistant","content":"first reply"}}` + "\n" +
		"{broken\n" +
		`{"type":"message","message":{"role":"assistant","content":"<system-reminder>internal</system-reminder>final reply"}}` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write transcript: %v", err)
	}

	got := lastAssistantMessage(cwd, "sess")
	if got != "final reply" {
		t.Errorf("expected stripped final assistant message, got %q", got)
	}
}

func TestExtractTextFromContentBlocks(t *testing.T) {
	blocks := []interface{}{
		map[string]interface{}{"type": "text", "text": "part one"},
		map[string]interface{}{"type": "text", "text": "part two"},
	}
	got := extractText(blocks)
	if got != "part one\npart two" {
		t.Errorf("expected joined blocks, got %q", got)
	}
}

func TestExtractTextFromPlainString(t *testing.T) {
	if got := extractText("plain text"); got != "plain text" {
		t.Errorf("expected plain string passthrough, got %q", got)
	}
}
