// Package dispatch routes a caller's message to a specialist agent. Routing
// runs in two phases: Classify picks an agent for unaddressed messages, and
// the specialist pipeline (scope guard, completion, persistence, composing)
// answers for exactly one agent. The second phase never calls the first.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"strings"

	"github.com/zulandar/switchyard/internal/apperr"
	"github.com/zulandar/switchyard/internal/completion"
	"github.com/zulandar/switchyard/internal/compose"
	"github.com/zulandar/switchyard/internal/config"
	"github.com/zulandar/switchyard/internal/memory"
	"github.com/zulandar/switchyard/internal/metrics"
	"github.com/zulandar/switchyard/internal/models"
	"github.com/zulandar/switchyard/internal/registry"
	"github.com/zulandar/switchyard/internal/scope"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// IntentOutOfScope tags turns persisted for a redirected exchange.
const IntentOutOfScope = "out_of_scope"

// Identity is the caller as established by the transport's auth layer.
type Identity struct {
	ID       string
	FullName string
	Role     string
}

// Envelope is the response for one chat request.
type Envelope struct {
	Success          bool     `json:"success"`
	Response         string   `json:"response"`
	AgentID          string   `json:"agentId"`
	AgentName        string   `json:"agentName"`
	IsInScope        bool     `json:"isInScope"`
	Intent           string   `json:"intent,omitempty"`
	SuggestedAgentID string   `json:"suggestedAgentId,omitempty"`
	Confidence       *float64 `json:"confidence,omitempty"`
	Reason           string   `json:"reason,omitempty"`
	Message          string   `json:"message,omitempty"`
	Error            string   `json:"error,omitempty"`
}

// Classification is the classifier's routing decision for one message.
type Classification struct {
	SuggestedAgentID string
	Confidence       float64
	Reason           string
	// Fallback is set when the classifier reply was unusable and the
	// configured default agent was substituted.
	Fallback bool
}

// Dispatcher routes messages to specialists.
type Dispatcher struct {
	registry *registry.Registry
	client   completion.Client
	guard    *scope.Guard
	store    *memory.Store
	routing  config.RoutingConfig
	metrics  *metrics.Metrics
	logger   *zap.Logger

	classifyPrompt string
}

// Opts holds parameters for creating a Dispatcher.
type Opts struct {
	Registry *registry.Registry
	Client   completion.Client
	Store    *memory.Store
	Routing  config.RoutingConfig
	Metrics  *metrics.Metrics // optional
	Logger   *zap.Logger      // optional
}

// New creates a Dispatcher. Registry, Client and Store are required. Zero
// routing values take the config package defaults.
func New(opts Opts) (*Dispatcher, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("dispatch: registry is required")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("dispatch: completion client is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("dispatch: conversation store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	routing := opts.Routing
	if routing.DefaultAgent == "" {
		routing.DefaultAgent = config.DefaultAgent
	}
	def, ok := opts.Registry.Resolve(routing.DefaultAgent)
	if !ok {
		return nil, fmt.Errorf("dispatch: default agent %q is not registered", routing.DefaultAgent)
	}
	routing.DefaultAgent = def

	prompt, err := RenderClassifyPrompt(opts.Registry)
	if err != nil {
		return nil, err
	}

	client := observedClient{next: opts.Client, metrics: opts.Metrics}
	guard, err := scope.NewGuard(scope.GuardOpts{
		Client:          client,
		FailOpenOnError: routing.GuardFailOpen(),
		Logger:          logger.Named("scope"),
	})
	if err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}

	return &Dispatcher{
		registry:       opts.Registry,
		client:         client,
		guard:          guard,
		store:          opts.Store,
		routing:        routing,
		metrics:        opts.Metrics,
		logger:         logger,
		classifyPrompt: prompt,
	}, nil
}

// Route answers message for the caller. With an explicit agent the message
// goes straight to that specialist; otherwise it is classified first and
// either dispatched or answered with a clarification menu.
func (d *Dispatcher) Route(ctx context.Context, id Identity, message, explicitAgentID string) (*Envelope, error) {
	const op = "dispatch: route"
	ctx, span := tracer.Start(ctx, "dispatch.route")
	defer span.End()

	env, err := d.route(ctx, id, message, explicitAgentID)
	endSpan(span, err)
	if err != nil {
		d.metrics.ObserveRoute(routeLabel(explicitAgentID), metrics.OutcomeError)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	span.SetAttributes(attribute.String("agent", env.AgentID), attribute.Bool("in_scope", env.IsInScope))
	return env, nil
}

func (d *Dispatcher) route(ctx context.Context, id Identity, message, explicitAgentID string) (*Envelope, error) {
	if strings.TrimSpace(id.ID) == "" {
		return nil, apperr.Errorf(apperr.Unauthorized, "", "caller identity is required")
	}
	if strings.TrimSpace(message) == "" {
		return nil, apperr.Errorf(apperr.Validation, "", "message is required")
	}

	if strings.TrimSpace(explicitAgentID) != "" {
		agent, err := d.registry.Get(explicitAgentID)
		if err != nil {
			return nil, err
		}
		return d.dispatchToAgent(ctx, id, agent, message)
	}

	c, err := d.Classify(ctx, message)
	if err != nil {
		return nil, err
	}
	if c.Confidence < d.routing.Threshold() {
		d.logger.Info("low confidence, asking for clarification",
			zap.String("user", id.ID),
			zap.String("suggested", c.SuggestedAgentID),
			zap.Float64("confidence", c.Confidence))
		d.metrics.ObserveRoute(registry.General, metrics.OutcomeClarification)
		env := &Envelope{
			Success:   true,
			Response:  clarificationText(d.registry.List()),
			AgentID:   registry.General,
			AgentName: registry.GeneralDisplayName,
			IsInScope: true,
			Intent:    compose.DefaultIntent,
		}
		annotate(env, c)
		return env, nil
	}

	agent, err := d.registry.Get(c.SuggestedAgentID)
	if err != nil {
		return nil, err
	}
	env, err := d.dispatchToAgent(ctx, id, agent, message)
	if err != nil {
		return nil, err
	}
	annotate(env, c)
	return env, nil
}

// Classify asks the backend which specialist should handle message.
// Unusable replies fall back to the default agent; backend failures are
// returned as UpstreamUnavailable.
func (d *Dispatcher) Classify(ctx context.Context, message string) (Classification, error) {
	var reply struct {
		SuggestedAgent string   `json:"suggested_agent"`
		Confidence     *float64 `json:"confidence"`
		Reason         string   `json:"reason"`
	}
	raw, err := completion.GenerateJSON(ctx, d.client, completion.Request{
		SystemPrompt: d.classifyPrompt,
		UserMessage:  message,
		Temperature:  completion.Float(0),
		Op:           "classify",
	}, &reply)

	if apperr.Is(err, apperr.MalformedUpstreamResponse) {
		return d.fallback(raw, err), nil
	}
	if err != nil {
		return Classification{}, err
	}
	agentID, ok := d.registry.Resolve(reply.SuggestedAgent)
	if !ok || reply.Confidence == nil || math.IsNaN(*reply.Confidence) {
		return d.fallback(raw, fmt.Errorf("unusable classification: agent %q", reply.SuggestedAgent)), nil
	}

	c := Classification{
		SuggestedAgentID: agentID,
		Confidence:       clamp(*reply.Confidence),
		Reason:           strings.TrimSpace(reply.Reason),
	}
	d.metrics.ObserveConfidence(c.Confidence)
	return c, nil
}

func (d *Dispatcher) fallback(raw string, cause error) Classification {
	d.logger.Warn("classifier reply unusable, using default agent",
		zap.String("default_agent", d.routing.DefaultAgent),
		zap.String("raw", completion.Truncate(raw, 200)),
		zap.Error(cause))
	d.metrics.ObserveFallback("classify")
	return Classification{
		SuggestedAgentID: d.routing.DefaultAgent,
		Confidence:       d.routing.Fallback(),
		Reason:           "Không xác định được bộ phận phù hợp, sử dụng bộ phận mặc định.",
		Fallback:         true,
	}
}

// dispatchToAgent runs the specialist pipeline for one agent. The per-pair
// lock is held from the history read through the final append so that
// concurrent requests for the same pair see each other's turns.
func (d *Dispatcher) dispatchToAgent(ctx context.Context, id Identity, agent registry.AgentDescriptor, message string) (*Envelope, error) {
	ctx, span := tracer.Start(ctx, "dispatch.agent", trace.WithAttributes(attribute.String("agent", agent.ID)))
	defer span.End()

	unlock, err := d.store.Lock(ctx, id.ID, agent.ID)
	if err != nil {
		endSpan(span, err)
		return nil, apperr.E(apperr.UpstreamUnavailable, "", err)
	}
	defer unlock()

	history, err := d.store.History(ctx, id.ID, agent.ID, 0)
	if err != nil {
		endSpan(span, err)
		return nil, err
	}

	verdict, err := d.guard.Check(ctx, agent, message)
	if err != nil {
		endSpan(span, err)
		return nil, err
	}
	if verdict.Degraded {
		d.metrics.ObserveFallback("scope")
	}
	if !verdict.InScope {
		env, err := d.redirect(ctx, id, agent, message, verdict.Reason)
		endSpan(span, err)
		return env, err
	}

	text, err := d.client.Generate(ctx, completion.Request{
		SystemPrompt: agent.SystemPrompt,
		History:      toMessages(history),
		UserMessage:  message,
		Op:           "generate",
	})
	if err != nil {
		endSpan(span, err)
		return nil, err
	}

	intent, answer := compose.ParseIntent(text)
	if err := d.persist(ctx, id.ID, agent.ID, message, answer, intent); err != nil {
		endSpan(span, err)
		return nil, err
	}

	d.logger.Info("answered",
		zap.String("user", id.ID),
		zap.String("agent", agent.ID),
		zap.String("intent", intent),
		zap.Int("history", len(history)))
	d.metrics.ObserveRoute(agent.ID, metrics.OutcomeAnswered)
	endSpan(span, nil)

	return &Envelope{
		Success:   true,
		Response:  compose.Greet(answer, compose.Caller{Name: id.FullName, Role: id.Role}),
		AgentID:   agent.ID,
		AgentName: agent.DisplayName,
		IsInScope: true,
		Intent:    intent,
	}, nil
}

func (d *Dispatcher) redirect(ctx context.Context, id Identity, agent registry.AgentDescriptor, message, reason string) (*Envelope, error) {
	text := redirectText(agent, reason)
	if d.routing.LogOutOfScope {
		if err := d.persist(ctx, id.ID, agent.ID, message, text, IntentOutOfScope); err != nil {
			return nil, err
		}
	}
	d.logger.Info("out of scope, redirecting",
		zap.String("user", id.ID),
		zap.String("agent", agent.ID),
		zap.String("reason", reason))
	d.metrics.ObserveRoute(agent.ID, metrics.OutcomeRedirect)
	return &Envelope{
		Success:   true,
		Response:  text,
		AgentID:   agent.ID,
		AgentName: agent.DisplayName,
		IsInScope: false,
		Intent:    IntentOutOfScope,
		Reason:    reason,
	}, nil
}

// persist appends the user turn, then the assistant turn. Both carry the
// intent of the exchange.
func (d *Dispatcher) persist(ctx context.Context, userID, agentID, message, answer, intent string) error {
	if _, err := d.store.Append(ctx, userID, agentID, models.RoleUser, message, intent); err != nil {
		return err
	}
	if _, err := d.store.Append(ctx, userID, agentID, models.RoleAssistant, answer, intent); err != nil {
		return err
	}
	return nil
}

// Handle is Route with every failure turned into an unsuccessful envelope.
// It never panics and never returns nil.
func (d *Dispatcher) Handle(ctx context.Context, id Identity, message, explicitAgentID string) (env *Envelope) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("route panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			env = Failure(apperr.Errorf(apperr.Internal, "dispatch: route", "panic: %v", r))
		}
	}()

	env, err := d.Route(ctx, id, message, explicitAgentID)
	if err != nil {
		kind := apperr.KindOf(err)
		if kind == apperr.Validation || kind == apperr.InvalidAgent || kind == apperr.Unauthorized {
			d.logger.Info("route rejected", zap.String("user", id.ID), zap.String("kind", string(kind)), zap.Error(err))
		} else {
			d.logger.Error("route failed", zap.String("user", id.ID), zap.String("kind", string(kind)), zap.Error(err))
		}
		return Failure(err)
	}
	return env
}

// Failure builds the unsuccessful envelope for err. Error carries the
// error kind; Message is safe to show the caller.
func Failure(err error) *Envelope {
	kind := apperr.KindOf(err)
	return &Envelope{
		Success: false,
		Message: publicMessage(kind, err),
		Error:   string(kind),
	}
}

func publicMessage(kind apperr.Kind, err error) string {
	switch kind {
	case apperr.Validation, apperr.InvalidAgent, apperr.Unauthorized:
		var e *apperr.Error
		if errors.As(err, &e) && e.Err != nil {
			return e.Err.Error()
		}
		return string(kind)
	case apperr.UpstreamUnavailable:
		return "Dịch vụ trả lời tạm thời không khả dụng, vui lòng thử lại sau."
	case apperr.Store:
		return "Không thể lưu hội thoại, vui lòng thử lại."
	default:
		return "Đã có lỗi xảy ra, vui lòng thử lại."
	}
}

func annotate(env *Envelope, c Classification) {
	env.SuggestedAgentID = c.SuggestedAgentID
	conf := c.Confidence
	env.Confidence = &conf
	env.Reason = c.Reason
}

func toMessages(turns []models.Turn) []completion.Message {
	msgs := make([]completion.Message, 0, len(turns))
	for _, t := range turns {
		role := completion.RoleUser
		if t.Role == models.RoleAssistant {
			role = completion.RoleAssistant
		}
		msgs = append(msgs, completion.Message{Role: role, Content: t.Content})
	}
	return msgs
}

func clamp(f float64) float64 {
	return math.Max(0, math.Min(1, f))
}

func routeLabel(explicit string) string {
	if strings.TrimSpace(explicit) == "" {
		return "auto"
	}
	return "explicit"
}
