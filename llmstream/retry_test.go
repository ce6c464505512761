package llmstream

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryPolicyDelayExponential(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, InitialDelay: time.Second}

	plain := errors.New("boom")
	delays := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
	}
	for i, expected := range delays {
		got := policy.Delay(i, plain)
		if got != expected {
			t.Errorf("attempt %d: expected %v, got %v", i, expected, got)
		}
	}
}

func TestRetryPolicyDelayFromWaitHint(t *testing.T) {
	policy := DefaultRetryPolicy()

	cases := []struct {
		msg      string
		expected time.Duration
	}{
		// 10% margin plus 100ms pad on top of the embedded duration.
		{"rate limited, please try again in 2s", 2*time.Second + 200*time.Millisecond + 100*time.Millisecond},
		{"rate limited, retry after 500 ms", 550*time.Millisecond + 100*time.Millisecond},
		{"please wait 1.5 seconds before retrying", time.Duration(1.5*1.1*float64(time.Second)) + 100*time.Millisecond},
	}
	for _, c := range cases {
		got := policy.Delay(0, errors.New(c.msg))
		if got != c.expected {
			t.Errorf("%q: expected %v, got %v", c.msg, c.expected, got)
		}
	}
}

func TestRetryPolicyDelayIgnoresUnrelatedNumbers(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, InitialDelay: time.Second}
	got := policy.Delay(0, errors.New("error code 500 from upstream"))
	if got != time.Second {
		t.Errorf("expected plain backoff 1s, got %v", got)
	}
}

func TestRetryTransientThenSuccess(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond}

	callCount := 0
	result, err := Retry(context.Background(), policy, func(ctx context.Context) (string, error) {
		callCount++
		if callCount < 3 {
			return "", &RateLimitError{BackendError: BackendError{Message: "rate limited", StatusCode: 429}}
		}
		return "success", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "success" {
		t.Errorf("expected %q, got %q", "success", result)
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls, got %d", callCount)
	}
}

func TestRetryNonTransientPropagatesImmediately(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond}

	callCount := 0
	start := time.Now()
	_, err := Retry(context.Background(), policy, func(ctx context.Context) (string, error) {
		callCount++
		return "", &AuthError{BackendError: BackendError{Message: "invalid key", StatusCode: 401}}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if callCount != 1 {
		t.Errorf("expected 1 call for non-transient error, got %d", callCount)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("non-transient failure should not wait, took %v", elapsed)
	}
}

func TestRetryBound(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond}

	callCount := 0
	_, err := Retry(context.Background(), policy, func(ctx context.Context) (string, error) {
		callCount++
		return "", &RateLimitError{BackendError: BackendError{Message: "rate limited"}}
	})
	if err == nil {
		t.Fatal("expected error after retries exhausted")
	}
	if callCount != 4 { // 1 initial + 3 retries
		t.Errorf("expected 4 calls, got %d", callCount)
	}
}

func TestRetryCancelledDuringBackoff(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 5, InitialDelay: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	callCount := 0
	_, err := Retry(ctx, policy, func(ctx context.Context) (string, error) {
		callCount++
		return "", &RateLimitError{BackendError: BackendError{Message: "rate limited"}}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", callCount)
	}
}

func TestRetryNoError(t *testing.T) {
	result, err := Retry(context.Background(), DefaultRetryPolicy(), func(ctx context.Context) (string, error) {
		return "immediate", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "immediate" {
		t.Errorf("expected %q, got %q", "immediate", result)
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	if p.MaxRetries != 3 {
		t.Errorf("expected max retries 3, got %d", p.MaxRetries)
	}
	if p.InitialDelay != time.Second {
		t.Errorf("expected initial delay 1s, got %v", p.InitialDelay)
	}
}
