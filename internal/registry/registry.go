// Package registry holds the closed set of specialist agents. The set is
// fixed at build time; configuration may only adjust the text of a known
// agent, never add one.
package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zulandar/switchyard/internal/apperr"
	"github.com/zulandar/switchyard/internal/config"
)

// Specialist agent identifiers.
const (
	Contract    = "contract"
	Training    = "training"
	Claims      = "claims"
	Recruitment = "recruitment"
)

// General is the pseudo-agent that answers clarification and redirect
// envelopes. It has no descriptor and cannot be targeted explicitly.
const General = "general"

// GeneralDisplayName is shown to users for the General pseudo-agent.
const GeneralDisplayName = "AI Tổng"

// QuestionPlaceholder is replaced by the user message in a ScopePrompt.
const QuestionPlaceholder = "{question}"

// AgentDescriptor describes one specialist.
type AgentDescriptor struct {
	ID           string
	DisplayName  string
	Description  string
	SystemPrompt string
	ScopePrompt  string // optional; empty means every message is in scope
}

// order fixes listing order independent of map iteration.
var order = []string{Contract, Training, Claims, Recruitment}

// aliases maps alternate identifiers used by older clients to canonical ids.
var aliases = map[string]string{
	"claim":     Claims,
	"hopdong":   Contract,
	"daotao":    Training,
	"tuyendung": Recruitment,
}

// Registry is a read-only lookup table of specialists.
type Registry struct {
	agents map[string]AgentDescriptor
}

// New builds a Registry from the built-in specialists with overrides
// applied. An override naming an unknown agent is an error, as is any
// descriptor left without a display name or system prompt.
func New(overrides []config.AgentConfig) (*Registry, error) {
	agents := make(map[string]AgentDescriptor, len(builtin))
	for _, d := range builtin {
		agents[d.ID] = d
	}

	var errs []string
	for _, o := range overrides {
		id := canonical(o.ID)
		d, ok := agents[id]
		if !ok {
			errs = append(errs, fmt.Sprintf("unknown agent %q", o.ID))
			continue
		}
		if o.DisplayName != "" {
			d.DisplayName = o.DisplayName
		}
		if o.Description != "" {
			d.Description = o.Description
		}
		if o.SystemPrompt != "" {
			d.SystemPrompt = o.SystemPrompt
		}
		if o.ScopePrompt != "" {
			d.ScopePrompt = o.ScopePrompt
		}
		agents[id] = d
	}

	for _, id := range order {
		d := agents[id]
		if strings.TrimSpace(d.DisplayName) == "" {
			errs = append(errs, fmt.Sprintf("agent %q: display name is required", id))
		}
		if strings.TrimSpace(d.SystemPrompt) == "" {
			errs = append(errs, fmt.Sprintf("agent %q: system prompt is required", id))
		}
		if d.ScopePrompt != "" && !strings.Contains(d.ScopePrompt, QuestionPlaceholder) {
			errs = append(errs, fmt.Sprintf("agent %q: scope prompt must contain %s", id, QuestionPlaceholder))
		}
	}
	if len(errs) > 0 {
		sort.Strings(errs)
		return nil, fmt.Errorf("registry: invalid agents: %s", strings.Join(errs, "; "))
	}
	return &Registry{agents: agents}, nil
}

// Default returns the registry of built-in specialists without overrides.
func Default() *Registry {
	r, err := New(nil)
	if err != nil {
		panic(err)
	}
	return r
}

// Resolve maps an identifier (any case, canonical or alias) to its
// canonical agent id. ok is false when no specialist matches.
func (r *Registry) Resolve(id string) (string, bool) {
	c := canonical(id)
	_, ok := r.agents[c]
	return c, ok
}

// Get returns the descriptor for id, or an InvalidAgent error.
func (r *Registry) Get(id string) (AgentDescriptor, error) {
	c, ok := r.Resolve(id)
	if !ok {
		return AgentDescriptor{}, apperr.Errorf(apperr.InvalidAgent, "registry: get", "unknown agent %q", id)
	}
	return r.agents[c], nil
}

// Has reports whether id names a specialist.
func (r *Registry) Has(id string) bool {
	_, ok := r.Resolve(id)
	return ok
}

// List returns all specialists in stable order.
func (r *Registry) List() []AgentDescriptor {
	out := make([]AgentDescriptor, 0, len(order))
	for _, id := range order {
		out = append(out, r.agents[id])
	}
	return out
}

// IDs returns all specialist ids in stable order.
func (r *Registry) IDs() []string {
	return append([]string(nil), order...)
}

func canonical(id string) string {
	c := strings.ToLower(strings.TrimSpace(id))
	if a, ok := aliases[c]; ok {
		return a
	}
	return c
}
