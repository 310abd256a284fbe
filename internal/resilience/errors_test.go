package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"
)

func TestIsTransient_ExplicitTransientError(t *testing.T) {
	err := NewTransientError(errors.New("server overloaded"), 503)
	if !IsTransient(err) {
		t.Error("expected TransientError to be transient")
	}
}

func TestIsTransient_WrappedTransientError(t *testing.T) {
	inner := NewTransientError(errors.New("rate limited"), 429)
	wrapped := fmt.Errorf("api call failed: %w", inner)
	if !IsTransient(wrapped) {
		t.Error("expected wrapped TransientError to be transient")
	}
}

func TestIsTransient_NilError(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil error should not be transient")
	}
}

func TestIsTransient_RegularError(t *testing.T) {
	err := errors.New("invalid input: missing field")
	if IsTransient(err) {
		t.Error("regular error should not be transient")
	}
}

func TestIsTransient_ConnectionReset(t *testing.T) {
	err := fmt.Errorf("write tcp: %w", syscall.ECONNRESET)
	if !IsTransient(err) {
		t.Error("ECONNRESET should be transient")
	}
}

func TestIsTransient_ConnectionRefused(t *testing.T) {
	err := fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED)
	if !IsTransient(err) {
		t.Error("ECONNREFUSED should be transient")
	}
}

func TestIsTransient_NetworkTimeout(t *testing.T) {
	err := &net.DNSError{IsTimeout: true, Err: "timeout"}
	if !IsTransient(err) {
		t.Error("network timeout should be transient")
	}
}

func TestIsTransient_StringPatterns(t *testing.T) {
	patterns := []string{
		"connection reset by peer",
		"broken pipe",
		"TLS handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	}
	for _, p := range patterns {
		err := errors.New(p)
		if !IsTransient(err) {
			t.Errorf("expected %q to be transient", p)
		}
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	transient := []int{408, 429, 500, 502, 503, 504}
	for _, code := range transient {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("expected HTTP %d to be transient", code)
		}
	}

	permanent := []int{200, 201, 400, 401, 403, 404, 405, 409, 422}
	for _, code := range permanent {
		if IsTransientHTTPStatus(code) {
			t.Errorf("expected HTTP %d to NOT be transient", code)
		}
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("root cause")
	te := NewTransientError(inner, 500)

	if !errors.Is(te, inner) {
		t.Error("TransientError.Unwrap should return the inner error")
	}

	if te.StatusCode != 500 {
		t.Errorf("expected StatusCode 500, got %d", te.StatusCode)
	}
}

func TestTransientError_ErrorMessage(t *testing.T) {
	inner := errors.New("something went wrong")
	te := NewTransientError(inner, 503)

	if te.Error() != "something went wrong" {
		t.Errorf("expected error message %q, got %q", inner.Error(), te.Error())
	}
}

func TestRetryAfter_FromChain(t *testing.T) {
	te := NewTransientError(errors.New("slow down"), 429).WithRetryAfter(3 * time.Second)
	wrapped := fmt.Errorf("extract: %w", te)

	d, ok := RetryAfter(wrapped)
	if !ok || d != 3*time.Second {
		t.Errorf("expected 3s retry-after, got %v (ok=%v)", d, ok)
	}

	if _, ok := RetryAfter(errors.New("plain")); ok {
		t.Error("plain error should carry no retry-after")
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 2, 25, 12, 0, 0, 0, time.UTC)

	cases := map[string]time.Duration{
		"":      0,
		"5":     5 * time.Second,
		"1.5":   1500 * time.Millisecond,
		"-2":    0,
		"bogus": 0,
		now.Add(10 * time.Second).Format(time.RFC1123): 10 * time.Second,
	}
	for in, want := range cases {
		if got := ParseRetryAfter(in, now); got != want {
			t.Errorf("ParseRetryAfter(%q) = %v, want %v", in, got, want)
		}
	}
}

type selfClassified struct {
	transient bool
	delay     time.Duration
}

func (e selfClassified) Error() string             { return "self classified" }
func (e selfClassified) Transient() bool           { return e.transient }
func (e selfClassified) RetryDelay() time.Duration { return e.delay }

func TestIsTransient_SelfClassifying(t *testing.T) {
	if !IsTransient(fmt.Errorf("call: %w", selfClassified{transient: true})) {
		t.Error("self-classified transient error should be transient")
	}
	if IsTransient(selfClassified{transient: false}) {
		t.Error("self-classified permanent error should not be transient")
	}

	d, ok := RetryAfter(selfClassified{transient: true, delay: time.Second})
	if !ok || d != time.Second {
		t.Errorf("expected 1s retry delay, got %v (ok=%v)", d, ok)
	}
}
