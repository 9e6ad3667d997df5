package transcript

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTranscript(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func TestExtractSummary_LatestAssistantText(t *testing.T) {
	path := writeTranscript(t,
		`{"type":"user","message":{"role":"user","content":"do the thing"}}`,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"working on it"}]}}`,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","name":"Edit"}]}}`,
		`not json at all`,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"Done."},{"type":"tool_use"},{"type":"text","text":"Changed 2 files."}]}}`,
		`{"type":"user","message":{"role":"user","content":[{"type":"tool_result"}]}}`,
	)

	e := NewExtractor(0, zerolog.Nop())
	assert.Equal(t, "Done.\nChanged 2 files.", e.ExtractSummary(context.Background(), path))
}

func TestExtractSummary_StringContentAndRoleOnly(t *testing.T) {
	path := writeTranscript(t,
		`{"message":{"role":"assistant","content":"  plain answer  "}}`,
	)
	e := NewExtractor(0, zerolog.Nop())
	assert.Equal(t, "plain answer", e.ExtractSummary(context.Background(), path))
}

func TestExtractSummary_NoMatchOrMissing(t *testing.T) {
	e := NewExtractor(0, zerolog.Nop())
	ctx := context.Background()

	path := writeTranscript(t, `{"type":"user","message":{"role":"user","content":"hi"}}`)
	assert.Equal(t, "", e.ExtractSummary(ctx, path))
	assert.Equal(t, "", e.ExtractSummary(ctx, filepath.Join(t.TempDir(), "missing.jsonl")))
	assert.Equal(t, "", e.ExtractSummary(ctx, ""))
}

func TestExtractSummary_LongLine(t *testing.T) {
	long := strings.Repeat("x", 2*1024*1024)
	path := writeTranscript(t, `{"type":"assistant","message":{"content":"`+long+`"}}`)
	e := NewExtractor(0, zerolog.Nop())
	assert.Len(t, e.ExtractSummary(context.Background(), path), len(long))
}

func TestExtractSummary_SkipsOversizedLine(t *testing.T) {
	huge := strings.Repeat("y", 11*1024*1024)
	path := writeTranscript(t,
		`{"type":"assistant","message":{"content":"old"}}`,
		`{"type":"user","message":{"role":"user","content":"`+huge+`"}}`,
		`{"type":"assistant","message":{"content":"newest"}}`,
	)
	e := NewExtractor(0, zerolog.Nop())
	assert.Equal(t, "newest", e.ExtractSummary(context.Background(), path))
}

func TestLastAssistantText_OversizedAssistantFallsBack(t *testing.T) {
	long := strings.Repeat("z", 200*1024)
	path := writeTranscript(t,
		`{"type":"assistant","message":{"content":"earlier"}}`,
		`{"type":"assistant","message":{"content":"`+long+`"}}`,
	)
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	text, err := lastAssistantText(f, 100*1024)
	require.NoError(t, err)
	assert.Equal(t, "earlier", text)

	text, err = lastAssistantText(f, maxLineBytes)
	require.NoError(t, err)
	assert.Len(t, text, len(long))
}

func TestLastAssistantText_NoTrailingNewline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"assistant","message":{"content":"only"}}`), 0o644))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	text, err := lastAssistantText(f, maxLineBytes)
	require.NoError(t, err)
	assert.Equal(t, "only", text)
}

func TestExtractSummary_WaitsForWriterToSettle(t *testing.T) {
	path := writeTranscript(t, `{"type":"assistant","message":{"content":"draft"}}`)
	e := NewExtractor(100*time.Millisecond, zerolog.Nop())

	go func() {
		time.Sleep(30 * time.Millisecond)
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return
		}
		defer f.Close()
		f.WriteString(`{"type":"assistant","message":{"content":"final"}}` + "\n")
	}()

	start := time.Now()
	got := e.ExtractSummary(context.Background(), path)
	assert.Equal(t, "final", got)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestExtractSummary_MissingFileStillWaits(t *testing.T) {
	e := NewExtractor(20*time.Millisecond, zerolog.Nop())
	start := time.Now()
	assert.Equal(t, "", e.ExtractSummary(context.Background(), filepath.Join(t.TempDir(), "nope.jsonl")))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestExtractSummary_ContextCancelled(t *testing.T) {
	path := writeTranscript(t, `{"type":"assistant","message":{"content":"answer"}}`)
	e := NewExtractor(time.Second, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, "", e.ExtractSummary(ctx, path))
}
