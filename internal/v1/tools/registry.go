// Package tools implements the per-room tool registry: registration,
// permission checks, rate limits, and usage accounting.
package tools

import (
	"sync"
	"time"
)

// Tier gates a tool by role class. Tiers are membership tests, not an
// ordered hierarchy: all and participant match every role, expert
// matches architect and expert, moderator and admin match only their
// own role.
type Tier string

const (
	TierAll         Tier = "all"
	TierParticipant Tier = "participant"
	TierExpert      Tier = "expert"
	TierModerator   Tier = "moderator"
	TierAdmin       Tier = "admin"
)

// matches reports whether a role belongs to the tier.
func (t Tier) matches(role string) bool {
	switch t {
	case TierAll, TierParticipant, "":
		return true
	case TierExpert:
		return role == "architect" || role == "expert"
	case TierModerator:
		return role == "moderator"
	case TierAdmin:
		return role == "admin"
	}
	return false
}

// Permissions controls who may invoke a tool. Precedence: the deny
// list wins, then a non-empty explicit allow list, then allowed roles,
// then the tier.
type Permissions struct {
	AllowedAgentIDs []string
	DeniedAgentIDs  []string
	AllowedRoles    []string
	Tier            Tier
}

// RateLimit bounds per-agent tool usage across three rolling windows.
// A zero ceiling means unlimited for that window.
type RateLimit struct {
	PerHour       int
	PerDay        int
	MaxConcurrent int
}

// Tool is one registered capability.
type Tool struct {
	Name        string
	Permissions Permissions
	RateLimit   *RateLimit
	Enabled     bool
}

// UsageStats summarizes recorded invocations of one tool.
type UsageStats struct {
	TotalCalls    int
	SuccessCalls  int
	FailedCalls   int
	TotalDuration time.Duration
}

// agentUsage tracks one agent's rolling windows for one tool.
type agentUsage struct {
	hourStart  time.Time
	hourCount  int
	dayStart   time.Time
	dayCount   int
	concurrent int
}

// Registry holds the tools registered in one room.
type Registry struct {
	mu    sync.Mutex
	tools map[string]*Tool
	usage map[string]map[string]*agentUsage // tool -> agent -> windows
	stats map[string]*UsageStats
	now   func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]*Tool),
		usage: make(map[string]map[string]*agentUsage),
		stats: make(map[string]*UsageStats),
		now:   time.Now,
	}
}

// Register adds or replaces a tool.
func (r *Registry) Register(t *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
}

// Get returns a registered tool.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tools[name]
	return t, ok
}

// ListFor returns the names of enabled tools the agent may invoke,
// used to populate the WELCOME extension.
func (r *Registry) ListFor(agentID, role string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for name, t := range r.tools {
		if t.Enabled && permitted(t, agentID, role) {
			out = append(out, name)
		}
	}
	return out
}

// HasPermission checks whether an agent with the given role may invoke
// the tool. Unknown or disabled tools are never permitted.
func (r *Registry) HasPermission(toolName, agentID, role string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tools[toolName]
	if !ok || !t.Enabled {
		return false
	}
	return permitted(t, agentID, role)
}

func permitted(t *Tool, agentID, role string) bool {
	p := t.Permissions
	for _, id := range p.DeniedAgentIDs {
		if id == agentID {
			return false
		}
	}
	if len(p.AllowedAgentIDs) > 0 {
		for _, id := range p.AllowedAgentIDs {
			if id == agentID {
				return true
			}
		}
		return false
	}
	if len(p.AllowedRoles) > 0 {
		found := false
		for _, rl := range p.AllowedRoles {
			if rl == role {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if p.Tier != "" {
		return p.Tier.matches(role)
	}
	return true
}

// CheckRateLimit reports whether the agent is below every ceiling of
// the tool's rate limit. Windows roll here; counters mutate only in
// RecordUsage.
func (r *Registry) CheckRateLimit(toolName, agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tools[toolName]
	if !ok || t.RateLimit == nil {
		return ok
	}

	u := r.windowsLocked(toolName, agentID)
	lim := t.RateLimit

	if lim.PerHour > 0 && u.hourCount >= lim.PerHour {
		return false
	}
	if lim.PerDay > 0 && u.dayCount >= lim.PerDay {
		return false
	}
	if lim.MaxConcurrent > 0 && u.concurrent >= lim.MaxConcurrent {
		return false
	}
	return true
}

// RecordUsage counts one invocation: it increments the hourly and
// daily windows, takes a concurrent slot, and updates the usage stats.
// The current request is always counted, including the one that
// creates a fresh window.
func (r *Registry) RecordUsage(toolName, agentID string, success bool, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u := r.windowsLocked(toolName, agentID)
	u.hourCount++
	u.dayCount++
	u.concurrent++

	s, ok := r.stats[toolName]
	if !ok {
		s = &UsageStats{}
		r.stats[toolName] = s
	}
	s.TotalCalls++
	if success {
		s.SuccessCalls++
	} else {
		s.FailedCalls++
	}
	s.TotalDuration += duration
}

// ReleaseConcurrentSlot frees the concurrent slot taken by RecordUsage.
func (r *Registry) ReleaseConcurrentSlot(toolName, agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agents, ok := r.usage[toolName]
	if !ok {
		return
	}
	u, ok := agents[agentID]
	if !ok || u.concurrent == 0 {
		return
	}
	u.concurrent--
}

// Stats returns the recorded usage summary for a tool.
func (r *Registry) Stats(toolName string) UsageStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stats[toolName]; ok {
		return *s
	}
	return UsageStats{}
}

// windowsLocked returns the agent's usage windows, rolling any that
// have expired. Caller must hold r.mu.
func (r *Registry) windowsLocked(toolName, agentID string) *agentUsage {
	agents, ok := r.usage[toolName]
	if !ok {
		agents = make(map[string]*agentUsage)
		r.usage[toolName] = agents
	}
	u, ok := agents[agentID]
	now := r.now()
	if !ok {
		u = &agentUsage{hourStart: now, dayStart: now}
		agents[agentID] = u
		return u
	}
	if now.Sub(u.hourStart) >= time.Hour {
		u.hourStart = now
		u.hourCount = 0
	}
	if now.Sub(u.dayStart) >= 24*time.Hour {
		u.dayStart = now
		u.dayCount = 0
	}
	return u
}
