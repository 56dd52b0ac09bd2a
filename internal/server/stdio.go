package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/ChamsBouzaiene/repowiki/internal/knowledge"
	"github.com/ChamsBouzaiene/repowiki/internal/protocol"
)

// StdioRunner speaks newline-delimited JSON: one command per input line, one
// event per output line. Queries run concurrently and can be canceled by id.
type StdioRunner struct {
	engine  Engine
	scanner *bufio.Scanner
	writer  *bufio.Writer
	events  chan protocol.Event

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
	wg       sync.WaitGroup
}

// NewStdioRunner reads commands from in and writes events to out.
func NewStdioRunner(e Engine, in io.Reader, out io.Writer) *StdioRunner {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &StdioRunner{
		engine:   e,
		scanner:  scanner,
		writer:   bufio.NewWriter(out),
		events:   make(chan protocol.Event, 256),
		inflight: make(map[string]context.CancelFunc),
	}
}

// Run processes commands until in is exhausted or ctx is canceled. In-flight
// queries are finished (or canceled with ctx) before Run returns.
func (r *StdioRunner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go r.flushEvents(errCh)

	lines := make(chan string)
	var scanErr error
	go func() {
		defer close(lines)
		for r.scanner.Scan() {
			select {
			case lines <- r.scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr = r.scanner.Err()
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				if scanErr != nil && !errors.Is(scanErr, io.EOF) {
					r.emit(ctx, protocol.NewErrorEvent("", fmt.Errorf("stdin: %w", scanErr)))
				}
				break loop
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			r.handleLine(ctx, line)
		}
	}

	r.wg.Wait()
	close(r.events)
	return <-errCh
}

func (r *StdioRunner) flushEvents(errCh chan<- error) {
	var writeErr error
	for ev := range r.events {
		if writeErr != nil {
			continue
		}
		if err := r.writeEvent(ev); err != nil {
			writeErr = err
		}
	}
	if writeErr == nil {
		writeErr = r.writer.Flush()
	}
	errCh <- writeErr
}

func (r *StdioRunner) writeEvent(ev protocol.Event) error {
	payload, err := protocol.MarshalEvent(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := r.writer.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return r.writer.Flush()
}

// emit blocks until the event is queued; answer fragments must not be dropped.
func (r *StdioRunner) emit(ctx context.Context, ev protocol.Event) {
	select {
	case r.events <- ev:
	case <-ctx.Done():
		log.Printf("stdio: dropping %s event after shutdown", ev.GetType())
	}
}

func (r *StdioRunner) handleLine(ctx context.Context, line string) {
	cmd, err := protocol.DecodeCommand([]byte(line))
	if err != nil {
		r.emit(ctx, protocol.NewInvalidCommandEvent("", err))
		return
	}

	switch c := cmd.(type) {
	case protocol.QueryCommand:
		qctx, cancel := context.WithCancel(ctx)
		if !r.track(c.RequestID, cancel) {
			cancel()
			r.emit(ctx, protocol.NewInvalidCommandEvent(c.RequestID, fmt.Errorf("request %s is already running", c.RequestID)))
			return
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer r.untrack(c.RequestID)
			r.runQuery(qctx, ctx, c)
		}()
	case protocol.CancelCommand:
		r.mu.Lock()
		cancel, ok := r.inflight[c.RequestID]
		r.mu.Unlock()
		if ok {
			cancel()
		}
	}
}

func (r *StdioRunner) track(id string, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.inflight[id]; dup {
		return false
	}
	r.inflight[id] = cancel
	return true
}

func (r *StdioRunner) untrack(id string) {
	r.mu.Lock()
	cancel, ok := r.inflight[id]
	delete(r.inflight, id)
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

// runQuery streams one answer. Events are emitted under the runner context so a
// canceled query still reports its error.
func (r *StdioRunner) runQuery(ctx, runCtx context.Context, c protocol.QueryCommand) {
	req, err := queryRequest(c)
	if err != nil {
		r.emit(runCtx, protocol.NewInvalidCommandEvent(c.RequestID, err))
		return
	}
	stream, err := r.engine.AskStream(ctx, req)
	if err != nil {
		r.emit(runCtx, protocol.NewErrorEvent(c.RequestID, err))
		return
	}
	defer stream.Close()

	for frag := range stream.Fragments() {
		if !frag.Done {
			r.emit(runCtx, protocol.NewFragmentEvent(c.RequestID, frag.Text))
			continue
		}
		if frag.Err != nil {
			r.emit(runCtx, protocol.NewErrorEvent(c.RequestID, frag.Err))
			return
		}
		ans := frag.Answer
		r.emit(runCtx, protocol.NewDoneEvent(c.RequestID, toSources(ans.Contexts), ans.Usage.Total))
		if ans.SessionID != "" {
			r.emit(runCtx, protocol.NewSessionEvent(c.RequestID, ans.SessionID, len(ans.Messages)/2))
		}
		return
	}
	r.emit(runCtx, protocol.NewErrorEvent(c.RequestID, context.Canceled))
}

// queryRequest applies the same validation as POST /query.
func queryRequest(c protocol.QueryCommand) (knowledge.QueryRequest, error) {
	body := QueryBody{
		RepoBody: RepoBody{
			RepoURL:       c.RepoURL,
			RepoType:      c.RepoType,
			Token:         c.Token,
			ExcludedDirs:  c.ExcludedDirs,
			ExcludedFiles: c.ExcludedFiles,
			IncludedDirs:  c.IncludedDirs,
			IncludedFiles: c.IncludedFiles,
		},
		Question:  c.Question,
		Messages:  c.Messages,
		FilePath:  c.FilePath,
		SessionID: c.SessionID,
		Language:  c.Language,
		Provider:  c.Provider,
		Model:     c.Model,
	}
	if err := body.Validate(); err != nil {
		return knowledge.QueryRequest{}, err
	}
	return body.request(), nil
}
