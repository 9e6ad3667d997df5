// Package ranker assembles the context bundles handed back to the assistant:
// a smart context when a sub-agent spawns, a project context on each user
// prompt, and the incomplete-task warning when a sub-agent stops.
//
// Every source query is isolated: a failing query is logged and counted, and
// the bundle is built from whatever the remaining queries returned.
package ranker

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/clnode/internal/metrics"
	"github.com/p-blackswan/clnode/internal/store"
)

// Sources is the read side of the repository the ranker draws from.
// *store.Store satisfies it.
type Sources interface {
	SessionProject(ctx context.Context, sessionID string) (*string, error)
	SiblingAgents(ctx context.Context, sessionID, parentAgentID string, limit int) ([]store.Agent, error)
	SameTypeAgents(ctx context.Context, agentType, sessionID, parentAgentID string, limit int) ([]store.Agent, error)
	CrossSessionContext(ctx context.Context, projectID, sessionID string, entryTypes []string, limit int) ([]store.ContextEntry, error)
	TaggedContext(ctx context.Context, sessionID string, tags, entryTypes []string, limit int) ([]store.ContextEntry, error)
	RecentContext(ctx context.Context, sessionID string, limit int) ([]store.ContextEntry, error)
	AssignedTasks(ctx context.Context, projectID *string, agentName string) ([]store.AssignedTask, error)
	IncompleteTasks(ctx context.Context, projectID *string, agentName string) ([]store.Task, error)
	OpenTasks(ctx context.Context, projectID *string) ([]store.Task, error)
	ActiveAgentsBySession(ctx context.Context, sessionID string) ([]store.Agent, error)
	RecentDecisions(ctx context.Context, sessionID string, entryTypes []string, limit int) ([]store.ContextEntry, error)
	CompletedAgentsBySession(ctx context.Context, sessionID string, limit int) ([]store.Agent, error)
}

// Entry types that carry across sessions of a project.
var crossSessionTypes = []string{
	store.EntryAgentSummary, store.EntryDecision, store.EntryBlocker, store.EntryHandoff,
}

// Entry types that are always relevant within a session.
var decisionTypes = []string{store.EntryDecision, store.EntryBlocker, store.EntryHandoff}

// Ranker builds context bundles.
type Ranker struct {
	src     Sources
	limits  Limits
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New creates a Ranker. Zero fields in limits fall back to DefaultLimits.
func New(src Sources, limits Limits, logger zerolog.Logger, m *metrics.Metrics) *Ranker {
	return &Ranker{
		src:     src,
		limits:  DefaultLimits().Merge(limits),
		logger:  logger.With().Str("component", "ranker").Logger(),
		metrics: m,
	}
}

// Limits returns the effective limits.
func (r *Ranker) Limits() Limits {
	return r.limits
}

// safeQuery runs one source query. On failure it logs, counts, and returns nil
// so the caller simply renders nothing for that section.
func safeQuery[T any](r *Ranker, source string, fn func() ([]T, error)) []T {
	rows, err := fn()
	if err != nil {
		r.logger.Warn().Err(err).Str("source", source).Msg("context source failed")
		r.metrics.RecordSourceFailure(source)
		return nil
	}
	return rows
}

// sessionProject resolves the session's project. ok is false when the lookup
// itself failed, in which case project-scoped sections are skipped.
func (r *Ranker) sessionProject(ctx context.Context, sessionID string) (project *string, ok bool) {
	p, err := r.src.SessionProject(ctx, sessionID)
	if err != nil {
		r.logger.Warn().Err(err).Str("source", "session_project").Msg("context source failed")
		r.metrics.RecordSourceFailure("session_project")
		return nil, false
	}
	return p, true
}

// BuildSmartContext returns the context for a spawning sub-agent, or "" when
// there is nothing to say.
func (r *Ranker) BuildSmartContext(ctx context.Context, sessionID, agentName string, agentType, parentAgentID *string) string {
	var sections []string
	typ := deref(agentType)
	parent := deref(parentAgentID)

	if parent != "" {
		siblings := safeQuery(r, "siblings", func() ([]store.Agent, error) {
			return r.src.SiblingAgents(ctx, sessionID, parent, r.limits.Siblings)
		})
		if len(siblings) > 0 {
			sections = append(sections, section("Sibling Agent Results", summaryLines(siblings)))
		}
	}

	if typ != "" {
		sameType := safeQuery(r, "same_type", func() ([]store.Agent, error) {
			return r.src.SameTypeAgents(ctx, typ, sessionID, parent, r.limits.SameType)
		})
		if len(sameType) > 0 {
			sections = append(sections, section(fmt.Sprintf("Previous %s Agent Results", typ), summaryLines(sameType)))
		}
	}

	project, projectOK := r.sessionProject(ctx, sessionID)

	if project != nil {
		cross := safeQuery(r, "cross_session", func() ([]store.ContextEntry, error) {
			return r.src.CrossSessionContext(ctx, *project, sessionID, crossSessionTypes, r.limits.CrossSession)
		})
		if len(cross) > 0 {
			lines := make([]string, len(cross))
			for i, e := range cross {
				by := ""
				if e.AgentName != nil && *e.AgentName != "" {
					by = " by " + *e.AgentName
				}
				lines[i] = fmt.Sprintf("- [%s%s] %s", e.EntryType, by, e.Content)
			}
			sections = append(sections, section("Cross-Session Context", lines))
		}
	}

	tags := []string{agentName}
	if typ != "" && typ != agentName {
		tags = append(tags, typ)
	}
	tags = append(tags, "all")
	tagged := safeQuery(r, "tagged", func() ([]store.ContextEntry, error) {
		return r.src.TaggedContext(ctx, sessionID, tags, decisionTypes, r.limits.Tagged)
	})
	if len(tagged) > 0 {
		sections = append(sections, section("Relevant Context", entryLines(tagged)))
	}

	if len(sections) == 0 {
		recent := safeQuery(r, "recent", func() ([]store.ContextEntry, error) {
			return r.src.RecentContext(ctx, sessionID, r.limits.Fallback)
		})
		if len(recent) > 0 {
			sections = append(sections, section("Recent Context", entryLines(recent)))
		}
	}

	if projectOK {
		assigned := safeQuery(r, "assigned_tasks", func() ([]store.AssignedTask, error) {
			return r.src.AssignedTasks(ctx, project, agentName)
		})
		if len(assigned) > 0 {
			lines := make([]string, len(assigned))
			for i, t := range assigned {
				line := fmt.Sprintf("- [%s] %s%s", t.Status, t.Title, tagSuffix(t.Tags))
				if d := deref(t.Description); d != "" {
					line += ": " + truncate(d, r.limits.DescriptionExcerpt)
				}
				if p := deref(t.Plan); p != "" {
					line += "\n  Plan: " + truncate(p, r.limits.PlanExcerpt)
				}
				lines[i] = line
			}
			sections = append(sections, section("Your Assigned Tasks", lines))
		}
	}

	if len(sections) == 0 {
		return ""
	}
	out := fmt.Sprintf("[clnode smart context for %s]\n\n%s", agentName, strings.Join(sections, "\n\n"))
	r.metrics.ObserveBundle("smart", len(out))
	return out
}

// BuildPromptContext returns the project context attached to a user prompt,
// or "" when the session has no agents, tasks, decisions or summaries.
func (r *Ranker) BuildPromptContext(ctx context.Context, sessionID string) string {
	var sections []string

	active := safeQuery(r, "active_agents", func() ([]store.Agent, error) {
		return r.src.ActiveAgentsBySession(ctx, sessionID)
	})
	if len(active) > 0 {
		lines := make([]string, len(active))
		for i, a := range active {
			lines[i] = "- " + a.AgentName
			if t := deref(a.AgentType); t != "" {
				lines[i] += " (" + t + ")"
			}
		}
		sections = append(sections, section("Active Agents", lines))
	}

	if project, ok := r.sessionProject(ctx, sessionID); ok {
		open := safeQuery(r, "open_tasks", func() ([]store.Task, error) {
			return r.src.OpenTasks(ctx, project)
		})
		if len(open) > 0 {
			shown := open
			if len(shown) > r.limits.PromptTasks {
				shown = shown[:r.limits.PromptTasks]
			}
			lines := make([]string, 0, len(shown)+1)
			for _, t := range shown {
				line := fmt.Sprintf("- [%s] %s%s", t.Status, t.Title, tagSuffix(t.Tags))
				if a := deref(t.AssignedTo); a != "" {
					line += " → " + a
				}
				lines = append(lines, line)
			}
			if rest := len(open) - len(shown); rest > 0 {
				lines = append(lines, fmt.Sprintf("\n(+%d in backlog)", rest))
			}
			sections = append(sections, section("Open Tasks", lines))
		}
	}

	decisions := safeQuery(r, "decisions", func() ([]store.ContextEntry, error) {
		return r.src.RecentDecisions(ctx, sessionID, decisionTypes, r.limits.PromptDecisions)
	})
	if len(decisions) > 0 {
		sections = append(sections, section("Recent Decisions & Blockers", entryLines(decisions)))
	}

	completed := safeQuery(r, "completed_agents", func() ([]store.Agent, error) {
		return r.src.CompletedAgentsBySession(ctx, sessionID, r.limits.PromptCompleted)
	})
	if len(completed) > 0 {
		sections = append(sections, section("Completed Agent Summaries", summaryLines(completed)))
	}

	if len(sections) == 0 {
		return ""
	}
	out := "[clnode project context]\n\n" + strings.Join(sections, "\n\n")
	r.metrics.ObserveBundle("prompt", len(out))
	return out
}

// CheckIncompleteTasks returns a warning listing the agent's open tasks, or ""
// when it has none.
func (r *Ranker) CheckIncompleteTasks(ctx context.Context, sessionID, agentName string) string {
	project, ok := r.sessionProject(ctx, sessionID)
	if !ok {
		return ""
	}
	tasks := safeQuery(r, "incomplete_tasks", func() ([]store.Task, error) {
		return r.src.IncompleteTasks(ctx, project, agentName)
	})
	if len(tasks) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[clnode warning] Agent %s stopping with %d incomplete task(s):", agentName, len(tasks))
	for _, t := range tasks {
		fmt.Fprintf(&b, "\n- [%s] %s", t.Status, t.Title)
	}
	return b.String()
}

func section(heading string, lines []string) string {
	return "## " + heading + "\n" + strings.Join(lines, "\n")
}

func summaryLines(agents []store.Agent) []string {
	lines := make([]string, len(agents))
	for i, a := range agents {
		lines[i] = fmt.Sprintf("- [%s] %s", a.AgentName, deref(a.ContextSummary))
	}
	return lines
}

func entryLines(entries []store.ContextEntry) []string {
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = fmt.Sprintf("- [%s] %s", e.EntryType, e.Content)
	}
	return lines
}

func tagSuffix(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	return " [" + strings.Join(tags, ", ") + "]"
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
