package resolver

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ChamsBouzaiene/repowiki/internal/engine"
)

// Fragment is one piece of a streamed answer. The last fragment has Done set and
// carries either the completed Answer or Err.
type Fragment struct {
	Text   string
	Done   bool
	Err    error
	Answer *Answer
}

// AnswerStream is a finite, non-restartable sequence of answer fragments.
type AnswerStream struct {
	// Contexts are the excerpts the answer is grounded on, known before generation starts.
	Contexts []Context

	fragments chan Fragment
	cancel    context.CancelFunc
	once      sync.Once
	taken     bool
	mu        sync.Mutex
}

// Fragments returns the fragment channel. Only the first call receives the answer;
// later calls get a channel holding a single error fragment. The channel is closed
// after the Done fragment.
func (s *AnswerStream) Fragments() <-chan Fragment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.taken {
		ch := make(chan Fragment, 1)
		ch <- Fragment{Err: errStreamConsumed, Done: true}
		close(ch)
		return ch
	}
	s.taken = true
	return s.fragments
}

// Close aborts the provider call. The session is left as it was before the question.
func (s *AnswerStream) Close() {
	s.once.Do(s.cancel)
}

// Collect drains the stream into a completed answer.
func (s *AnswerStream) Collect() (*Answer, error) {
	defer s.Close()
	for f := range s.Fragments() {
		if f.Done {
			return f.Answer, f.Err
		}
	}
	return nil, context.Canceled
}

// Stream answers req incrementally. The turn is recorded only after the final
// fragment; a failed or closed stream leaves the session untouched.
func (r *Resolver) Stream(ctx context.Context, req Request) (*AnswerStream, error) {
	p, err := r.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &AnswerStream{
		Contexts:  p.contexts,
		fragments: make(chan Fragment, 16),
		cancel:    cancel,
	}

	opts := engine.ChatOptions{Temperature: r.config.Temperature, MaxOutputTokens: r.config.MaxOutputTokens}

	go func() {
		defer close(s.fragments)
		defer cancel()

		var text strings.Builder
		var usage engine.Usage
		send := func(f Fragment) bool {
			select {
			case s.fragments <- f:
				return true
			case <-ctx.Done():
				return false
			}
		}
		// The final fragment is dropped only when the buffer is full and the caller closed the stream.
		final := func(f Fragment) {
			select {
			case s.fragments <- f:
				return
			default:
			}
			select {
			case s.fragments <- f:
			case <-ctx.Done():
			}
		}

		// Attempts are retried only while nothing has reached the caller.
		classify := func(err error) engine.RetryClass {
			if text.Len() > 0 {
				return engine.RetryClassNonRetryable
			}
			return engine.ClassifyProviderError(err)
		}
		_, err := engine.RetryWithPolicy(ctx, r.config.Retry.GeneratePolicy,
			func(ctx context.Context) (struct{}, error) {
				usage = engine.Usage{}
				return struct{}{}, r.streamAttempt(ctx, p, opts, func(ev engine.StreamEvent) {
					switch ev.Type {
					case engine.StreamTextDelta:
						if ev.Text == "" {
							return
						}
						text.WriteString(ev.Text)
						send(Fragment{Text: ev.Text})
					case engine.StreamUsage:
						usage.Add(ev.Usage)
					}
				})
			},
			classify,
			func(attempt int, delay time.Duration, err error) {
				log.Printf("🔄 Streaming generation failed (attempt %d), retrying in %v: %v", attempt, delay, err)
			})

		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		if err != nil {
			p.abandon()
			if ctx.Err() != nil {
				err = ctx.Err()
			} else {
				err = &engine.ProviderError{Provider: p.generator.Provider, Op: "stream", Err: err}
			}
			final(Fragment{Err: err, Done: true})
			return
		}

		ans, err := p.finish(context.WithoutCancel(ctx), text.String(), usage)
		if err != nil {
			final(Fragment{Err: err, Done: true})
			return
		}
		final(Fragment{Done: true, Answer: ans})
	}()

	return s, nil
}

// streamAttempt runs one provider stream, handing every event to onEvent. The
// attempt fails with a retryable timeout when no event arrives within
// Timeouts.Generate; each event restarts that clock.
func (r *Resolver) streamAttempt(ctx context.Context, p *prepared, opts engine.ChatOptions, onEvent func(engine.StreamEvent)) error {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events, errs := p.generator.Client.Stream(attemptCtx, p.generator.Model, p.messages, opts)

	idle := r.config.Timeouts.Generate
	var expired <-chan time.Time
	var timer *time.Timer
	if idle > 0 {
		timer = time.NewTimer(idle)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return <-errs
			}
			onEvent(ev)
			if timer != nil {
				timer.Reset(idle)
			}
		case <-expired:
			cancel()
			for range events {
			}
			err := <-errs
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &engine.EngineError{
				Err:       fmt.Errorf("provider stream idle for %s: %w", idle, err),
				Class:     engine.RetryClassRetryable,
				IsTimeout: true,
			}
		}
	}
}
