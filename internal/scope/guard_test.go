package scope

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/zulandar/switchyard/internal/apperr"
	"github.com/zulandar/switchyard/internal/completion"
	"github.com/zulandar/switchyard/internal/registry"
)

func claimsAgent(t *testing.T) registry.AgentDescriptor {
	t.Helper()
	d, err := registry.Default().Get(registry.Claims)
	if err != nil {
		t.Fatalf("Get(claims): %v", err)
	}
	return d
}

func newGuard(t *testing.T, fake *completion.Fake, failOpen bool) *Guard {
	t.Helper()
	g, err := NewGuard(GuardOpts{Client: fake, FailOpenOnError: failOpen})
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}
	return g
}

func TestNewGuard_RequiresClient(t *testing.T) {
	if _, err := NewGuard(GuardOpts{}); err == nil {
		t.Fatal("expected error for nil client")
	}
}

func TestCheck_InScope(t *testing.T) {
	fake := completion.NewFake().Reply("scope", `{"is_in_scope": true, "reason": "Câu hỏi về thủ tục bồi thường"}`)
	g := newGuard(t, fake, true)

	msg := "Tôi muốn biết thủ tục bồi thường bảo hiểm y tế"
	v, err := g.Check(context.Background(), claimsAgent(t), msg)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !v.InScope || v.Degraded {
		t.Errorf("verdict = %+v, want in scope", v)
	}

	calls := fake.CallsFor("scope")
	if len(calls) != 1 {
		t.Fatalf("scope calls = %d, want 1", len(calls))
	}
	if !strings.Contains(calls[0].SystemPrompt, msg) {
		t.Error("scope prompt does not contain the question")
	}
	if strings.Contains(calls[0].SystemPrompt, registry.QuestionPlaceholder) {
		t.Error("scope prompt still contains the placeholder")
	}
	if calls[0].Temperature == nil || *calls[0].Temperature != 0 {
		t.Error("scope call should run at temperature 0")
	}
}

func TestCheck_OutOfScope(t *testing.T) {
	fake := completion.NewFake().Reply("scope", "```json\n{\"is_in_scope\": false, \"reason\": \"Câu hỏi về tuyển dụng\"}\n```")
	v, err := newGuard(t, fake, true).Check(context.Background(), claimsAgent(t), "Công ty có tuyển dụng không?")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if v.InScope {
		t.Error("InScope = true, want false")
	}
	if v.Reason != "Câu hỏi về tuyển dụng" {
		t.Errorf("Reason = %q", v.Reason)
	}
}

func TestCheck_MalformedFailsOpen(t *testing.T) {
	for _, raw := range []string{"Có, thuộc phạm vi.", `{"reason": "no flag"}`} {
		fake := completion.NewFake().Reply("scope", raw)
		// Fail-open on malformed output holds even when backend errors fail closed.
		v, err := newGuard(t, fake, false).Check(context.Background(), claimsAgent(t), "bồi thường")
		if err != nil {
			t.Fatalf("Check(%q): %v", raw, err)
		}
		if !v.InScope || !v.Degraded {
			t.Errorf("Check(%q) verdict = %+v, want degraded in-scope", raw, v)
		}
	}
}

func TestCheck_BackendError(t *testing.T) {
	boom := errors.New("connection reset")

	t.Run("fail open", func(t *testing.T) {
		fake := completion.NewFake().Fail("scope", boom)
		v, err := newGuard(t, fake, true).Check(context.Background(), claimsAgent(t), "x")
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if !v.InScope || !v.Degraded {
			t.Errorf("verdict = %+v, want degraded in-scope", v)
		}
	})

	t.Run("fail closed", func(t *testing.T) {
		fake := completion.NewFake().Fail("scope", boom)
		_, err := newGuard(t, fake, false).Check(context.Background(), claimsAgent(t), "x")
		if !apperr.Is(err, apperr.UpstreamUnavailable) {
			t.Errorf("kind = %q, want UpstreamUnavailable", apperr.KindOf(err))
		}
	})

	t.Run("cancelled caller never fails open", func(t *testing.T) {
		fake := completion.NewFake().Reply("scope", `{"is_in_scope": true}`)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := newGuard(t, fake, true).Check(ctx, claimsAgent(t), "x")
		if err == nil {
			t.Fatal("expected error for cancelled context")
		}
	})
}

func TestCheck_NoScopePrompt(t *testing.T) {
	fake := completion.NewFake()
	agent := claimsAgent(t)
	agent.ScopePrompt = ""
	v, err := newGuard(t, fake, true).Check(context.Background(), agent, "anything")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !v.InScope {
		t.Error("InScope = false, want true without a scope prompt")
	}
	if len(fake.Calls()) != 0 {
		t.Error("backend called for an agent without scope prompt")
	}
}
