package hooks

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
)

// Payload is the union of fields any hook event may carry. Absent fields are "".
type Payload struct {
	SessionID           string          `json:"session_id"`
	AgentID             string          `json:"agent_id"`
	AgentType           string          `json:"agent_type"`
	ParentAgentID       string          `json:"parent_agent_id"`
	ToolName            string          `json:"tool_name"`
	ToolInput           json.RawMessage `json:"tool_input"`
	ContextSummary      string          `json:"context_summary"`
	Result              json.RawMessage `json:"result"`
	AgentTranscriptPath string          `json:"agent_transcript_path"`
	CWD                 string          `json:"cwd"`
	Prompt              string          `json:"prompt"`
	Message             string          `json:"message"`
	Reason              string          `json:"reason"`
	ProjectID           string          `json:"project_id"`
	ProjectName         string          `json:"project_name"`
	ProjectPath         string          `json:"project_path"`
}

// camelCase spellings accepted for the identity fields.
type payloadAliases struct {
	SessionID     string `json:"sessionId"`
	AgentID       string `json:"agentId"`
	ParentAgentID string `json:"parentAgentId"`
}

// ParsePayload decodes a hook body. Empty or malformed bodies yield an empty
// Payload; unknown fields are ignored.
func ParsePayload(body []byte) Payload {
	var p Payload
	if len(bytes.TrimSpace(body)) == 0 {
		return p
	}
	if err := json.Unmarshal(body, &p); err != nil {
		return Payload{}
	}
	var a payloadAliases
	if err := json.Unmarshal(body, &a); err == nil {
		if p.SessionID == "" {
			p.SessionID = a.SessionID
		}
		if p.AgentID == "" {
			p.AgentID = a.AgentID
		}
		if p.ParentAgentID == "" {
			p.ParentAgentID = a.ParentAgentID
		}
	}
	return p
}

// ResultText returns the result field as text: the string itself, or the raw
// JSON for any other non-null value.
func (p Payload) ResultText() string {
	raw := bytes.TrimSpace(p.Result)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// EditedPath returns tool_input.file_path, falling back to notebook_path.
func (p Payload) EditedPath() string {
	if len(p.ToolInput) == 0 {
		return ""
	}
	var in struct {
		FilePath     string `json:"file_path"`
		NotebookPath string `json:"notebook_path"`
	}
	if err := json.Unmarshal(p.ToolInput, &in); err != nil {
		return ""
	}
	if in.FilePath != "" {
		return in.FilePath
	}
	return in.NotebookPath
}

// ProjectSlug turns a directory name into a project id: lowercase, runs of other
// characters collapsed into single dashes.
func ProjectSlug(path string) string {
	base := filepath.Base(filepath.Clean(path))
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(base) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if b.Len() > 0 && !dash {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if slug == "" {
		return "project"
	}
	return slug
}
