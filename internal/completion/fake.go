package completion

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/zulandar/switchyard/internal/apperr"
)

// Reply is one scripted response from a Fake.
type Reply struct {
	Text string
	Err  error
}

// FakeFunc chooses a reply for a request.
type FakeFunc func(ctx context.Context, req Request) Reply

// Fake is a scripted Client for tests and offline runs. Replies are chosen
// by the handler registered for req.Op, falling back to Default. Every call
// is recorded.
type Fake struct {
	mu       sync.Mutex
	handlers map[string]FakeFunc
	calls    []Request

	// Default handles ops without a registered handler. When nil such
	// calls fail with UpstreamUnavailable.
	Default FakeFunc
}

// NewFake creates an empty Fake.
func NewFake() *Fake {
	return &Fake{handlers: make(map[string]FakeFunc)}
}

// On registers fn for requests whose Op equals op.
func (f *Fake) On(op string, fn FakeFunc) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[op] = fn
	return f
}

// Reply registers a fixed text reply for op.
func (f *Fake) Reply(op, text string) *Fake {
	return f.On(op, func(context.Context, Request) Reply { return Reply{Text: text} })
}

// Fail registers a fixed error for op.
func (f *Fake) Fail(op string, err error) *Fake {
	return f.On(op, func(context.Context, Request) Reply { return Reply{Err: err} })
}

// Generate implements Client.
func (f *Fake) Generate(ctx context.Context, req Request) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	fn := f.handlers[req.Op]
	if fn == nil {
		fn = f.Default
	}
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", apperr.E(apperr.UpstreamUnavailable, "completion: "+opName(req), err)
	}
	if fn == nil {
		return "", apperr.Errorf(apperr.UpstreamUnavailable, "completion: "+opName(req), "fake: no reply for op %q", req.Op)
	}
	r := fn(ctx, req)
	if r.Err != nil {
		if apperr.KindOf(r.Err) == apperr.Internal {
			return "", apperr.E(apperr.UpstreamUnavailable, "completion: "+opName(req), r.Err)
		}
		return "", r.Err
	}
	return r.Text, nil
}

// Calls returns a copy of every recorded request.
func (f *Fake) Calls() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.calls...)
}

// CallsFor returns the recorded requests with the given op.
func (f *Fake) CallsFor(op string) []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Request
	for _, c := range f.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Echo is a FakeFunc that answers with the user message, handy for
// offline `sy chat` sessions.
func Echo(_ context.Context, req Request) Reply {
	msg := req.UserMessage
	if msg == "" {
		msg = lastLine(req.SystemPrompt)
	}
	return Reply{Text: fmt.Sprintf("(echo) %s", msg)}
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

var _ Client = (*Fake)(nil)
