// Package hooks interprets lifecycle hook events. Each event is stored raw
// before anything else happens, then routed to a handler that updates
// session, agent and task state, optionally builds a context bundle, and
// notifies live observers.
package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/clnode/internal/errors"
	"github.com/p-blackswan/clnode/internal/metrics"
	"github.com/p-blackswan/clnode/internal/requestid"
	"github.com/p-blackswan/clnode/internal/store"
)

// Hook event names.
const (
	EventSessionStart     = "SessionStart"
	EventSessionEnd       = "SessionEnd"
	EventSubagentStart    = "SubagentStart"
	EventSubagentStop     = "SubagentStop"
	EventPostToolUse      = "PostToolUse"
	EventStop             = "Stop"
	EventUserPromptSubmit = "UserPromptSubmit"
	EventRegisterProject  = "RegisterProject"
)

const unknown = "unknown"

// DefaultEditTools are the tools whose PostToolUse events record a file change.
var DefaultEditTools = []string{"Edit", "Write", "MultiEdit", "NotebookEdit"}

// Repository is the write side of the store used by the dispatcher.
type Repository interface {
	SaveEvent(ctx context.Context, sessionID *string, eventType, payload string) (int64, error)
	FindProjectByPath(ctx context.Context, path string) (*string, error)
	GetProject(ctx context.Context, id string) (*store.Project, error)
	RegisterProject(ctx context.Context, id, name, path string) error
	StartSession(ctx context.Context, id string, projectID *string) error
	EndSession(ctx context.Context, id string) (int, error)
	StartAgent(ctx context.Context, a store.Agent) error
	StopAgent(ctx context.Context, id string, summary *string) error
	GetAgent(ctx context.Context, id string) (*store.Agent, error)
	AddContextEntry(ctx context.Context, e store.ContextEntry) (int64, error)
	RecordFileChange(ctx context.Context, sessionID string, agentID *string, filePath, changeType string) error
	LogActivity(ctx context.Context, sessionID string, agentID *string, eventType string, details any) error
}

// Ranker builds context bundles. *ranker.Ranker satisfies it.
type Ranker interface {
	BuildSmartContext(ctx context.Context, sessionID, agentName string, agentType, parentAgentID *string) string
	BuildPromptContext(ctx context.Context, sessionID string) string
	CheckIncompleteTasks(ctx context.Context, sessionID, agentName string) string
}

// Publisher notifies live observers. *broadcast.Hub satisfies it.
type Publisher interface {
	Publish(event string, data any)
}

// SummaryExtractor recovers an agent's final answer from its transcript.
type SummaryExtractor interface {
	ExtractSummary(ctx context.Context, path string) string
}

// Response is the JSON body returned to the hook caller.
type Response map[string]any

// Envelope wraps additional context the way the assistant expects it.
func Envelope(event, additionalContext string) Response {
	return Response{
		"hookSpecificOutput": map[string]any{
			"hookEventName":     event,
			"additionalContext": additionalContext,
		},
	}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithEditTools replaces the set of tools that record file changes.
func WithEditTools(tools []string) Option {
	return func(d *Dispatcher) {
		if len(tools) == 0 {
			return
		}
		d.editTools = make(map[string]bool, len(tools))
		for _, t := range tools {
			d.editTools[t] = true
		}
	}
}

type handlerFunc func(ctx context.Context, event string, p Payload, body []byte) (Response, error)

// Dispatcher routes hook events to their handlers.
type Dispatcher struct {
	repo      Repository
	ranker    Ranker
	pub       Publisher
	extractor SummaryExtractor
	logger    zerolog.Logger
	metrics   *metrics.Metrics

	editTools map[string]bool
	handlers  map[string]handlerFunc
}

// NewDispatcher wires a dispatcher.
func NewDispatcher(repo Repository, r Ranker, pub Publisher, ex SummaryExtractor, logger zerolog.Logger, m *metrics.Metrics, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		repo:      repo,
		ranker:    r,
		pub:       pub,
		extractor: ex,
		logger:    logger.With().Str("component", "hooks").Logger(),
		metrics:   m,
	}
	WithEditTools(DefaultEditTools)(d)
	for _, opt := range opts {
		opt(d)
	}

	d.handlers = map[string]handlerFunc{
		EventSessionStart:     d.onSessionStart,
		EventSessionEnd:       d.onSessionEnd,
		EventSubagentStart:    d.onSubagentStart,
		EventSubagentStop:     d.onSubagentStop,
		EventPostToolUse:      d.onPostToolUse,
		EventStop:             d.onStop,
		EventUserPromptSubmit: d.onUserPromptSubmit,
		EventRegisterProject:  d.onRegisterProject,
	}
	return d
}

// wantsEnvelope reports whether the event's response carries additional context.
func wantsEnvelope(event string) bool {
	return event == EventSubagentStart || event == EventUserPromptSubmit
}

func fallback(event string) Response {
	if wantsEnvelope(event) {
		return Envelope(event, "")
	}
	return Response{}
}

// Handle processes one hook call. It never fails: the raw event is stored
// first, and any later error or panic is logged and answered with an empty
// response of the right shape.
func (d *Dispatcher) Handle(ctx context.Context, event string, body []byte) (resp Response) {
	start := time.Now()
	d.metrics.RecordEvent(event)

	p := ParsePayload(body)
	log := d.logger.With().
		Str("event", event).
		Str("session_id", p.SessionID).
		Str("request_id", requestid.FromContext(ctx)).
		Logger()
	log.Debug().Msg("hook received")

	raw := string(body)
	if len(raw) == 0 {
		raw = "{}"
	}
	var sid *string
	if p.SessionID != "" {
		sid = &p.SessionID
	}
	if _, err := d.repo.SaveEvent(ctx, sid, event, raw); err != nil {
		log.Error().Err(err).Msg("failed to save raw event")
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("hook handler panicked")
			d.metrics.RecordDispatchError(event)
			resp = fallback(event)
		}
		d.metrics.ObserveDispatch(event, time.Since(start).Seconds())
	}()

	h, ok := d.handlers[event]
	if !ok {
		h = d.onOther
	}
	resp, err := h(ctx, event, p, body)
	if err != nil {
		log.Error().Err(err).Msg("hook handler failed")
		d.metrics.RecordDispatchError(event)
		return fallback(event)
	}
	if resp == nil {
		resp = Response{}
	}
	return resp
}

func orUnknown(s string) string {
	if s == "" {
		return unknown
	}
	return s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (d *Dispatcher) onSessionStart(ctx context.Context, event string, p Payload, _ []byte) (Response, error) {
	sid := p.SessionID
	if sid == "" {
		sid = uuid.NewString()
	}

	path := p.ProjectPath
	if path == "" {
		path = p.CWD
	}
	projectID, err := d.repo.FindProjectByPath(ctx, path)
	if err != nil {
		return nil, err
	}
	if projectID == nil && p.ProjectID != "" {
		proj, err := d.repo.GetProject(ctx, p.ProjectID)
		if err != nil {
			return nil, err
		}
		if proj != nil {
			projectID = &proj.ID
		}
	}

	if err := d.repo.StartSession(ctx, sid, projectID); err != nil {
		return nil, err
	}
	if err := d.repo.LogActivity(ctx, sid, nil, event, map[string]any{
		"project_id": projectID,
		"cwd":        p.CWD,
	}); err != nil {
		return nil, err
	}
	d.pub.Publish(event, map[string]any{"session_id": sid, "project_id": projectID})
	return Response{}, nil
}

func (d *Dispatcher) onSessionEnd(ctx context.Context, event string, p Payload, _ []byte) (Response, error) {
	cascaded := 0
	if p.SessionID != "" {
		n, err := d.repo.EndSession(ctx, p.SessionID)
		if err != nil {
			return nil, err
		}
		cascaded = n
	}
	sid := orUnknown(p.SessionID)
	if err := d.repo.LogActivity(ctx, sid, nil, event, map[string]any{"cascaded": cascaded}); err != nil {
		return nil, err
	}
	d.pub.Publish(event, map[string]any{"session_id": sid})
	return Response{}, nil
}

func (d *Dispatcher) onSubagentStart(ctx context.Context, event string, p Payload, _ []byte) (Response, error) {
	agentID := p.AgentID
	if agentID == "" {
		agentID = uuid.NewString()
	}
	sid := orUnknown(p.SessionID)
	name := orUnknown(p.AgentType)

	if err := d.repo.StartAgent(ctx, store.Agent{
		ID:            agentID,
		SessionID:     sid,
		AgentName:     name,
		AgentType:     optional(p.AgentType),
		ParentAgentID: optional(p.ParentAgentID),
	}); err != nil {
		return nil, err
	}
	if err := d.repo.LogActivity(ctx, sid, &agentID, event, map[string]any{
		"agent_name":      name,
		"agent_type":      optional(p.AgentType),
		"parent_agent_id": optional(p.ParentAgentID),
	}); err != nil {
		return nil, err
	}
	d.pub.Publish(event, map[string]any{
		"session_id": sid,
		"agent_id":   agentID,
		"agent_name": name,
		"agent_type": optional(p.AgentType),
	})

	additional := d.ranker.BuildSmartContext(ctx, sid, name, optional(p.AgentType), optional(p.ParentAgentID))
	return Envelope(event, additional), nil
}

func (d *Dispatcher) onSubagentStop(ctx context.Context, event string, p Payload, _ []byte) (Response, error) {
	sid := p.SessionID
	if p.AgentID == "" {
		if err := d.repo.LogActivity(ctx, orUnknown(sid), nil, event, map[string]any{
			"has_summary": false, "todo_warning": false,
		}); err != nil {
			return nil, err
		}
		d.pub.Publish(event, map[string]any{"session_id": orUnknown(sid)})
		return Response{}, nil
	}

	agentID := p.AgentID
	agent, err := d.repo.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	name := p.AgentType
	if agent != nil {
		name = agent.AgentName
		if sid == "" {
			sid = agent.SessionID
		}
	}
	name = orUnknown(name)
	sid = orUnknown(sid)

	summary := p.ContextSummary
	if summary == "" {
		summary = p.ResultText()
	}
	if summary == "" && p.AgentTranscriptPath != "" && d.extractor != nil {
		summary = d.extractor.ExtractSummary(ctx, p.AgentTranscriptPath)
	}

	if err := d.repo.StopAgent(ctx, agentID, optional(summary)); err != nil {
		return nil, err
	}
	if summary != "" {
		if _, err := d.repo.AddContextEntry(ctx, store.ContextEntry{
			SessionID: sid,
			AgentID:   &agentID,
			EntryType: store.EntryAgentSummary,
			Content:   summary,
			Tags:      []string{name},
		}); err != nil {
			return nil, err
		}
	}

	// Runs after the summary is persisted so the warning reflects final state.
	warning := d.ranker.CheckIncompleteTasks(ctx, sid, name)
	if warning != "" {
		if _, err := d.repo.AddContextEntry(ctx, store.ContextEntry{
			SessionID: sid,
			AgentID:   &agentID,
			EntryType: store.EntryTodoWarning,
			Content:   warning,
			Tags:      []string{name},
		}); err != nil {
			return nil, err
		}
	}

	if err := d.repo.LogActivity(ctx, sid, &agentID, event, map[string]any{
		"has_summary":  summary != "",
		"todo_warning": warning != "",
	}); err != nil {
		return nil, err
	}

	data := map[string]any{"session_id": sid, "agent_id": agentID, "agent_name": name}
	if summary != "" {
		data["summary"] = summary
	}
	if warning != "" {
		data["todo_warning"] = warning
	}
	d.pub.Publish(event, data)
	return Response{}, nil
}

func (d *Dispatcher) onPostToolUse(ctx context.Context, event string, p Payload, _ []byte) (Response, error) {
	sid := orUnknown(p.SessionID)
	agentID := optional(p.AgentID)

	details := map[string]any{"tool_name": p.ToolName}
	data := map[string]any{"session_id": sid, "agent_id": agentID, "tool_name": p.ToolName}

	if d.editTools[p.ToolName] {
		if path := p.EditedPath(); path != "" {
			change := store.ChangeEdit
			if p.ToolName == "Write" {
				change = store.ChangeCreate
			}
			if err := d.repo.RecordFileChange(ctx, sid, agentID, path, change); err != nil {
				return nil, err
			}
			details["file_path"] = path
			data["file_path"] = path
		}
	}

	if err := d.repo.LogActivity(ctx, sid, agentID, event, details); err != nil {
		return nil, err
	}
	d.pub.Publish(event, data)
	return Response{}, nil
}

func (d *Dispatcher) onStop(ctx context.Context, event string, p Payload, _ []byte) (Response, error) {
	sid := orUnknown(p.SessionID)
	if err := d.repo.LogActivity(ctx, sid, nil, event, map[string]any{"reason": p.Reason}); err != nil {
		return nil, err
	}
	d.pub.Publish(event, map[string]any{"session_id": sid, "reason": p.Reason})
	return Response{}, nil
}

func (d *Dispatcher) onUserPromptSubmit(ctx context.Context, event string, p Payload, _ []byte) (Response, error) {
	sid := orUnknown(p.SessionID)
	if err := d.repo.LogActivity(ctx, sid, nil, event, map[string]any{
		"prompt": truncateRunes(p.Prompt, 200),
	}); err != nil {
		return nil, err
	}
	d.pub.Publish(event, map[string]any{"session_id": sid, "prompt": p.Prompt})

	additional := ""
	if p.SessionID != "" {
		additional = d.ranker.BuildPromptContext(ctx, p.SessionID)
	}
	return Envelope(event, additional), nil
}

func (d *Dispatcher) onRegisterProject(ctx context.Context, event string, p Payload, _ []byte) (Response, error) {
	path := p.ProjectPath
	if path == "" {
		path = p.CWD
	}
	if path == "" {
		return nil, fmt.Errorf("register project: project_path: %w", perrors.ErrInvalidInput)
	}
	id := p.ProjectID
	if id == "" {
		id = ProjectSlug(path)
	}
	name := p.ProjectName
	if name == "" {
		name = filepath.Base(filepath.Clean(path))
	}

	if err := d.repo.RegisterProject(ctx, id, name, path); err != nil {
		return nil, err
	}
	if err := d.repo.LogActivity(ctx, orUnknown(p.SessionID), nil, event, map[string]any{
		"project_id": id, "path": path,
	}); err != nil {
		return nil, err
	}
	d.pub.Publish(event, map[string]any{"project_id": id, "name": name, "path": path})
	return Response{"ok": true, "project_id": id}, nil
}

func (d *Dispatcher) onOther(ctx context.Context, event string, p Payload, body []byte) (Response, error) {
	var raw any = string(body)
	if json.Valid(body) {
		raw = json.RawMessage(body)
	}
	if err := d.repo.LogActivity(ctx, orUnknown(p.SessionID), optional(p.AgentID), event, map[string]any{
		"event": event, "raw": raw,
	}); err != nil {
		return nil, err
	}
	d.pub.Publish(event, raw)
	return Response{}, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
