package completion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/zulandar/switchyard/internal/apperr"
	"github.com/zulandar/switchyard/internal/config"
)

func TestBreakerClient_PassesThrough(t *testing.T) {
	fake := NewFake().Reply("generate", "ok")
	b := NewBreakerClient(fake, config.BreakerConfig{}, nil)

	out, err := b.Generate(context.Background(), Request{Op: "generate", UserMessage: "hi"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "ok" {
		t.Errorf("out = %q, want ok", out)
	}
	if b.State() != gobreaker.StateClosed {
		t.Errorf("State = %v, want closed", b.State())
	}
}

func TestBreakerClient_OpensAfterConsecutiveFailures(t *testing.T) {
	fake := NewFake().Fail("generate", errors.New("connection refused"))
	b := NewBreakerClient(fake, config.BreakerConfig{MaxFailures: 2, OpenTimeout: time.Minute}, nil)

	for i := 0; i < 2; i++ {
		_, err := b.Generate(context.Background(), Request{Op: "generate"})
		if !apperr.Is(err, apperr.UpstreamUnavailable) {
			t.Fatalf("call %d kind = %q, want UpstreamUnavailable", i, apperr.KindOf(err))
		}
	}
	if b.State() != gobreaker.StateOpen {
		t.Fatalf("State = %v, want open", b.State())
	}

	before := len(fake.Calls())
	_, err := b.Generate(context.Background(), Request{Op: "generate"})
	if !apperr.Is(err, apperr.UpstreamUnavailable) {
		t.Errorf("open-circuit kind = %q, want UpstreamUnavailable", apperr.KindOf(err))
	}
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("open-circuit error = %v, want ErrOpenState in chain", err)
	}
	if len(fake.Calls()) != before {
		t.Error("open circuit still reached the backend")
	}
}

func TestBreakerClient_CallerCancelDoesNotTrip(t *testing.T) {
	fake := NewFake().Reply("generate", "ok")
	b := NewBreakerClient(fake, config.BreakerConfig{MaxFailures: 1}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Generate(ctx, Request{Op: "generate"}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if b.State() != gobreaker.StateClosed {
		t.Errorf("State = %v, want closed after caller cancel", b.State())
	}
}
