// Package scope asks the completion backend whether a message belongs to a
// specialist's domain before the specialist answers it.
package scope

import (
	"context"
	"strings"

	"github.com/zulandar/switchyard/internal/apperr"
	"github.com/zulandar/switchyard/internal/completion"
	"github.com/zulandar/switchyard/internal/registry"
	"go.uber.org/zap"
)

// Verdict is the outcome of a scope check.
type Verdict struct {
	InScope bool
	Reason  string
	// Degraded is set when the verdict is a fail-open default rather than
	// the classifier's answer.
	Degraded bool
}

// Guard checks messages against an agent's scope prompt.
type Guard struct {
	client      completion.Client
	failOpenErr bool
	logger      *zap.Logger
}

// GuardOpts holds parameters for creating a Guard.
type GuardOpts struct {
	Client completion.Client
	// FailOpenOnError lets messages through when the backend itself fails.
	// Unparseable replies always fail open.
	FailOpenOnError bool
	Logger          *zap.Logger
}

// NewGuard creates a Guard. Client is required.
func NewGuard(opts GuardOpts) (*Guard, error) {
	if opts.Client == nil {
		return nil, apperr.Errorf(apperr.Internal, "scope: guard", "completion client is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{client: opts.Client, failOpenErr: opts.FailOpenOnError, logger: logger}, nil
}

type scopeReply struct {
	IsInScope *bool  `json:"is_in_scope"`
	Reason    string `json:"reason"`
}

// Check reports whether message is within agent's scope. Agents without a
// scope prompt accept everything.
func (g *Guard) Check(ctx context.Context, agent registry.AgentDescriptor, message string) (Verdict, error) {
	if agent.ScopePrompt == "" {
		return Verdict{InScope: true, Reason: "agent has no scope restriction"}, nil
	}

	prompt := strings.ReplaceAll(agent.ScopePrompt, registry.QuestionPlaceholder, message)
	var reply scopeReply
	raw, err := completion.GenerateJSON(ctx, g.client, completion.Request{
		SystemPrompt: prompt,
		Temperature:  completion.Float(0),
		Op:           "scope",
	}, &reply)

	switch {
	case apperr.Is(err, apperr.MalformedUpstreamResponse):
		g.logger.Warn("scope reply unparseable, failing open",
			zap.String("agent", agent.ID),
			zap.String("raw", completion.Truncate(raw, 200)),
			zap.Error(err))
		return Verdict{InScope: true, Reason: "scope check unavailable", Degraded: true}, nil
	case err != nil:
		if g.failOpenErr && ctx.Err() == nil {
			g.logger.Warn("scope check failed, failing open",
				zap.String("agent", agent.ID),
				zap.Error(err))
			return Verdict{InScope: true, Reason: "scope check unavailable", Degraded: true}, nil
		}
		return Verdict{}, err
	case reply.IsInScope == nil:
		g.logger.Warn("scope reply missing is_in_scope, failing open",
			zap.String("agent", agent.ID),
			zap.String("raw", completion.Truncate(raw, 200)))
		return Verdict{InScope: true, Reason: reply.Reason, Degraded: true}, nil
	}
	return Verdict{InScope: *reply.IsInScope, Reason: reply.Reason}, nil
}
