package contextengine

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/lukaszraczylo/memoryd/pkg/privacy"
)

// transcriptEntry is the subset of a JSONL transcript line this package
// cares about: the role and the rendered text of an assistant turn.
type transcriptEntry struct {
	Type    string `json:"type"`
	Message struct {
		Role    string `json:"role"`
		Content interface{} `json:"content"`
	} `json:"message"`
}

// lastAssistantMessage reads the transcript for memorySessionID under cwd
// and returns the privacy-stripped text of the last assistant turn, or ""
// if the file is missing, empty, or contains no assistant turn. Malformed
// lines are skipped, never fatal.
func lastAssistantMessage(cwd, memorySessionID string) string {
	if memorySessionID == "" {
		return ""
	}
	path := transcriptPath(cwd, memorySessionID)

	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("contextengine: transcript read failed")
		}
		return ""
	}
	defer f.Close()

	var last string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var entry transcriptEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		if entry.Message.Role != "assistant" {
			continue
		}
		if text := extractText(entry.Message.Content); text != "" {
			last = text
		}
	}
	if last == "" {
		return ""
	}
	return privacy.Clean(last)
}

// extractText handles both the plain-string and the content-block-array
// shapes a transcript message's content field may take.
func extractText(content interface{}) string {
	switch v := content.(type) {
	case string:
		return v
	case []interface{}:
		var parts []string
		for _, block := range v {
			m, ok := block.(map[string]interface{})
			if !ok {
				continue
			}
			if text, ok := m["text"].(string); ok {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}

// transcriptPath derives ~/.claude/projects/<cwd-dashed>/<memorySessionId>.jsonl.
func transcriptPath(cwd, memorySessionID string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	dashed := strings.ReplaceAll(cwd, "/", "-")
	return filepath.Join(home, ".claude", "projects", dashed, memorySessionID+".jsonl")
}
