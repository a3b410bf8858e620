package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{Config("disabled"), KindConfig},
		{Transport("boom", stderrors.New("io")), KindTransport},
		{Schema("bad payload"), KindSchema},
		{Cancelled("aborted"), KindCancelled},
		{Supervisor("no verdict"), KindSupervisor},
		{Fatal("migration", stderrors.New("sql")), KindFatal},
		{context.Canceled, KindCancelled},
		{context.DeadlineExceeded, KindCancelled},
		{stderrors.New("anonymous"), KindTransport},
	}
	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.want {
			t.Errorf("KindOf(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
	if KindOf(nil) != "" {
		t.Error("KindOf(nil) must be empty")
	}
}

func TestKindOfWrapped(t *testing.T) {
	inner := Cancelled("aborted")
	wrapped := fmt.Errorf("outer: %w", inner)
	if KindOf(wrapped) != KindCancelled {
		t.Error("expected wrapped AppError kind to be found")
	}
	if !IsCancelled(wrapped) {
		t.Error("IsCancelled must see through wrapping")
	}
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("spawn failed")
	err := Transport("subprocess", cause)
	if !stderrors.Is(err, cause) {
		t.Error("expected errors.Is to reach the cause")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(Transport("x", nil)) || !IsRetryable(Schema("y")) {
		t.Error("transport and schema errors are retryable")
	}
	if IsRetryable(Cancelled("z")) || IsRetryable(Config("w")) || IsRetryable(Fatal("v", nil)) {
		t.Error("cancelled, config and fatal errors are never retryable")
	}
}

func TestErrorString(t *testing.T) {
	err := Transport("spawn", stderrors.New("ENOENT"))
	want := "transport: spawn: ENOENT"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	bare := Schema("no payload")
	if bare.Error() != "schema: no payload" {
		t.Errorf("unexpected Error(): %q", bare.Error())
	}
}
