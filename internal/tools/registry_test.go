package tools

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("", "desc", echoTool); err == nil {
		t.Fatal("accepted empty tool name")
	}
	if err := r.Register("x", "desc", nil); err == nil {
		t.Fatal("accepted nil handler")
	}
}

func TestInvokeUnknownAction(t *testing.T) {
	r := NewRegistry()
	_, err := r.Invoke(context.Background(), "nope", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestInvokeCountsExecutions(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)

	for i := 0; i < 3; i++ {
		if _, err := r.Invoke(context.Background(), "echo", nil); err != nil {
			t.Fatalf("echo: %v", err)
		}
	}
	tool, ok := r.Get("echo")
	if !ok {
		t.Fatal("echo not registered")
	}
	if tool.ExecuteCount != 3 {
		t.Fatalf("execute count = %d, want 3", tool.ExecuteCount)
	}
}

func TestEchoOutputIsDeterministic(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)

	params := map[string]interface{}{"b": "2", "a": "1"}
	out, err := r.Invoke(context.Background(), "echo", params)
	if err != nil {
		t.Fatal(err)
	}
	if out != "a=1 b=2" {
		t.Fatalf("echo output = %q", out)
	}
}

func TestWaitHonorsCancellation(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Invoke(ctx, "wait", map[string]interface{}{"ms": int(time.Hour.Milliseconds())})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestFailToolReportsReason(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)

	_, err := r.Invoke(context.Background(), "fail", map[string]interface{}{"reason": "disk on fire"})
	if err == nil || err.Error() != "tool fail: disk on fire" {
		t.Fatalf("err = %v", err)
	}
}
