package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(retries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries:   retries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetryWithPolicy(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		err       error
		retries   int
		wantCalls int
		wantErr   bool
	}{
		{name: "success first try", failures: 0, err: errors.New("503 service unavailable"), retries: 3, wantCalls: 1},
		{name: "recovers after transient failures", failures: 2, err: errors.New("429 too many requests"), retries: 3, wantCalls: 3},
		{name: "exhausts budget", failures: 10, err: errors.New("502 bad gateway"), retries: 3, wantCalls: 4, wantErr: true},
		{name: "non retryable stops immediately", failures: 10, err: errors.New("401 unauthorized"), retries: 3, wantCalls: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			got, err := RetryWithPolicy(context.Background(), fastPolicy(tt.retries),
				func(ctx context.Context) (string, error) {
					calls++
					if calls <= tt.failures {
						return "", tt.err
					}
					return "ok", nil
				}, ClassifyProviderError, nil)

			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != "ok" {
				t.Errorf("got %q, want ok", got)
			}
		})
	}
}

func TestRetryWithPolicy_ExhaustedIsTyped(t *testing.T) {
	_, err := RetryWithPolicy(context.Background(), fastPolicy(1),
		func(ctx context.Context) (int, error) { return 0, errors.New("500 internal server error") },
		ClassifyProviderError, nil)
	if !IsRetryExhausted(err) {
		t.Fatalf("expected RetryExhaustedError, got %v", err)
	}
}

func TestRetryWithPolicy_ContextCancelStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxRetries: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 1}

	done := make(chan error, 1)
	go func() {
		_, err := RetryWithPolicy(ctx, policy, func(ctx context.Context) (int, error) {
			return 0, errors.New("503 service unavailable")
		}, ClassifyProviderError, func(int, time.Duration, error) { cancel() })
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("retry loop did not observe cancellation")
	}
}

func TestWithCallTimeout_TimeoutIsRetryable(t *testing.T) {
	calls := 0
	fn := WithCallTimeout(10*time.Millisecond, func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "late but fine", nil
	})

	got, err := RetryWithPolicy(context.Background(), fastPolicy(2), fn, ClassifyProviderError, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "late but fine" || calls != 2 {
		t.Errorf("got %q after %d calls", got, calls)
	}
}

func TestBackoff_HonorsRetryAfter(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, MaxDelay: 10 * time.Second, Multiplier: 2}
	err := WrapProviderError(errors.New("slow down"), 429, "3")
	if d := policy.backoff(0, err); d != 3*time.Second {
		t.Errorf("delay = %v, want 3s", d)
	}
	err = WrapProviderError(errors.New("slow down"), 429, "120")
	if d := policy.backoff(0, err); d != 10*time.Second {
		t.Errorf("delay = %v, want capped 10s", d)
	}
}

func TestClassifyProviderError(t *testing.T) {
	tests := []struct {
		err  error
		want RetryClass
	}{
		{errors.New("error, status code: 429"), RetryClassRetryable},
		{errors.New("dial tcp: connection refused"), RetryClassRetryable},
		{errors.New("maximum context length exceeded"), RetryClassMaybe},
		{errors.New("invalid api key provided"), RetryClassNonRetryable},
		{context.Canceled, RetryClassNonRetryable},
		{WrapProviderError(errors.New("boom"), 503, ""), RetryClassRetryable},
		{WrapProviderError(errors.New("boom"), 403, ""), RetryClassNonRetryable},
	}
	for _, tt := range tests {
		if got := ClassifyProviderError(tt.err); got != tt.want {
			t.Errorf("ClassifyProviderError(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
