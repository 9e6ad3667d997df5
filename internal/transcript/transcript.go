// Package transcript recovers a sub-agent's final answer from its JSONL
// transcript when the stop event did not carry a summary.
package transcript

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDelay is how long the transcript must be quiet before it is read.
const DefaultDelay = 500 * time.Millisecond

// Extractor reads the last assistant message from a transcript file.
type Extractor struct {
	// Delay is the quiet period to wait for the writer to settle. Zero reads immediately.
	Delay time.Duration
	// MaxWait bounds the total wait while writes keep arriving. Defaults to 4×Delay.
	MaxWait time.Duration

	logger zerolog.Logger
}

// NewExtractor returns an Extractor with the given settle delay.
func NewExtractor(delay time.Duration, logger zerolog.Logger) *Extractor {
	return &Extractor{
		Delay:   delay,
		MaxWait: 4 * delay,
		logger:  logger.With().Str("component", "transcript").Logger(),
	}
}

type entry struct {
	Type    string `json:"type"`
	Message *struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ExtractSummary waits for the file to settle and returns the text of the
// latest assistant message. Any failure yields "".
func (e *Extractor) ExtractSummary(ctx context.Context, path string) string {
	if path == "" {
		return ""
	}
	if !e.settle(ctx, path) {
		return ""
	}

	f, err := os.Open(path)
	if err != nil {
		e.logger.Debug().Err(err).Str("path", path).Msg("transcript unreadable")
		return ""
	}
	defer f.Close()

	text, err := lastAssistantText(f, maxLineBytes)
	if err != nil {
		e.logger.Debug().Err(err).Str("path", path).Msg("transcript scan stopped early")
	}
	return text
}

const (
	maxLineBytes = 10 * 1024 * 1024
	chunkBytes   = 64 * 1024
)

// lastAssistantText reads f backward from the end, line by line, and returns
// the first assistant text it finds. Lines longer than maxLine are skipped.
func lastAssistantText(f *os.File, maxLine int) (string, error) {
	fi, err := f.Stat()
	if err != nil {
		return "", err
	}

	var (
		pieces    [][]byte // partial line, last piece first
		size      int
		oversized bool
	)
	line := func() []byte {
		out := make([]byte, 0, size)
		for i := len(pieces) - 1; i >= 0; i-- {
			out = append(out, pieces[i]...)
		}
		return out
	}
	add := func(b []byte) {
		if oversized {
			return
		}
		if size+len(b) > maxLine {
			oversized, pieces, size = true, nil, 0
			return
		}
		pieces = append(pieces, append([]byte(nil), b...))
		size += len(b)
	}
	reset := func() {
		pieces, size, oversized = nil, 0, false
	}

	buf := make([]byte, chunkBytes)
	pos := fi.Size()
	for pos > 0 {
		n := int64(chunkBytes)
		if pos < n {
			n = pos
		}
		pos -= n
		block := buf[:n]
		if _, err := f.ReadAt(block, pos); err != nil {
			return "", err
		}
		for {
			i := bytes.LastIndexByte(block, '\n')
			if i < 0 {
				break
			}
			add(block[i+1:])
			if !oversized {
				if text := assistantText(line()); text != "" {
					return text, nil
				}
			}
			reset()
			block = block[:i]
		}
		add(block)
	}
	if !oversized {
		return assistantText(line()), nil
	}
	return "", nil
}

// settle blocks until the file has been quiet for Delay, MaxWait elapses, or
// ctx is done. It returns false only when ctx was cancelled.
func (e *Extractor) settle(ctx context.Context, path string) bool {
	if e.Delay <= 0 {
		return ctx.Err() == nil
	}
	maxWait := e.MaxWait
	if maxWait < e.Delay {
		maxWait = e.Delay
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return sleep(ctx, e.Delay)
	}
	defer w.Close()
	if err := w.Add(path); err != nil {
		return sleep(ctx, e.Delay)
	}

	quiet := time.NewTimer(e.Delay)
	defer quiet.Stop()
	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-quiet.C:
			return true
		case <-deadline.C:
			return true
		case ev, ok := <-w.Events:
			if !ok {
				return sleep(ctx, e.Delay)
			}
			if ev.Has(fsnotify.Write) {
				if !quiet.Stop() {
					select {
					case <-quiet.C:
					default:
					}
				}
				quiet.Reset(e.Delay)
			}
		case <-w.Errors:
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func assistantText(line []byte) string {
	var ent entry
	if err := json.Unmarshal(line, &ent); err != nil || ent.Message == nil {
		return ""
	}
	if ent.Type != "assistant" && ent.Message.Role != "assistant" {
		return ""
	}
	content := ent.Message.Content
	if len(content) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(content, &s); err == nil {
		return strings.TrimSpace(s)
	}

	var parts []contentPart
	if err := json.Unmarshal(content, &parts); err != nil {
		return ""
	}
	var texts []string
	for _, p := range parts {
		if p.Type == "text" && strings.TrimSpace(p.Text) != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.TrimSpace(strings.Join(texts, "\n"))
}
