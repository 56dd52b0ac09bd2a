// Package protocol defines the NDJSON commands and events exchanged over stdio.
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ChamsBouzaiene/repowiki/internal/engine"
)

// CommandType enumerates client -> engine commands.
type CommandType string

const (
	CommandQuery  CommandType = "query"
	CommandCancel CommandType = "cancel"
)

// Command is implemented by all protocol commands.
type Command interface {
	GetType() CommandType
}

// Message is one conversation turn as sent by clients.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// QueryCommand asks a question about a repository. Fragments of the answer are
// streamed back tagged with RequestID.
type QueryCommand struct {
	Type          CommandType `json:"type"`
	RequestID     string      `json:"request_id,omitempty"`
	RepoURL       string      `json:"repo_url"`
	RepoType      string      `json:"repo_type,omitempty"`
	Token         string      `json:"token,omitempty"`
	Question      string      `json:"question,omitempty"`
	FilePath      string      `json:"file_path,omitempty"`
	SessionID     string      `json:"session_id,omitempty"`
	Messages      []Message   `json:"messages,omitempty"`
	Language      string      `json:"language,omitempty"`
	Provider      string      `json:"provider,omitempty"`
	Model         string      `json:"model,omitempty"`
	ExcludedDirs  string      `json:"excluded_dirs,omitempty"`
	ExcludedFiles string      `json:"excluded_files,omitempty"`
	IncludedDirs  string      `json:"included_dirs,omitempty"`
	IncludedFiles string      `json:"included_files,omitempty"`
}

// GetType implements Command.
func (c QueryCommand) GetType() CommandType { return CommandQuery }

// CancelCommand aborts an in-flight query.
type CancelCommand struct {
	Type      CommandType `json:"type"`
	RequestID string      `json:"request_id"`
}

// GetType implements Command.
func (c CancelCommand) GetType() CommandType { return CommandCancel }

type rawCommand struct {
	Type CommandType `json:"type"`
}

// DecodeCommand converts raw JSON into a strongly typed command.
// Queries without a request id are assigned one.
func DecodeCommand(data []byte) (Command, error) {
	var base rawCommand
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}

	switch base.Type {
	case CommandQuery:
		var cmd QueryCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode query: %w", err)
		}
		if strings.TrimSpace(cmd.RepoURL) == "" {
			return nil, errors.New("query requires repo_url")
		}
		if strings.TrimSpace(cmd.Question) == "" && len(cmd.Messages) == 0 {
			return nil, errors.New("query requires question or messages")
		}
		if cmd.RequestID == "" {
			cmd.RequestID = NewRequestID()
		}
		return cmd, nil
	case CommandCancel:
		var cmd CancelCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode cancel: %w", err)
		}
		if cmd.RequestID == "" {
			return nil, errors.New("cancel requires request_id")
		}
		return cmd, nil
	default:
		return nil, fmt.Errorf("unknown command type: %s", base.Type)
	}
}

// NewRequestID generates an opaque request identifier.
func NewRequestID() string {
	return uuid.NewString()
}

// EventType enumerates engine -> client events.
type EventType string

const (
	EventFragment EventType = "fragment"
	EventDone     EventType = "done"
	EventError    EventType = "error"
	EventSession  EventType = "session"
)

// Event is implemented by every outgoing message.
type Event interface {
	isEvent()
	GetType() EventType
}

// MarshalEvent serializes an event into one NDJSON line (without the newline).
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

type eventBase struct {
	Type      EventType `json:"type"`
	RequestID string    `json:"request_id,omitempty"`
}

func (eventBase) isEvent() {}

// FragmentEvent carries the next piece of an answer.
type FragmentEvent struct {
	eventBase
	Text string `json:"text"`
}

// NewFragmentEvent constructs a fragment event.
func NewFragmentEvent(requestID, text string) FragmentEvent {
	return FragmentEvent{eventBase: eventBase{Type: EventFragment, RequestID: requestID}, Text: text}
}

// GetType implements Event.
func (e FragmentEvent) GetType() EventType { return e.Type }

// Source is one retrieved excerpt an answer was grounded on.
type Source struct {
	Path      string  `json:"path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Score     float64 `json:"score"`
}

// DoneEvent ends a successful answer.
type DoneEvent struct {
	eventBase
	Sources     []Source `json:"sources,omitempty"`
	TotalTokens int      `json:"total_tokens,omitempty"`
}

// NewDoneEvent constructs a done event.
func NewDoneEvent(requestID string, sources []Source, totalTokens int) DoneEvent {
	return DoneEvent{
		eventBase:   eventBase{Type: EventDone, RequestID: requestID},
		Sources:     sources,
		TotalTokens: totalTokens,
	}
}

// GetType implements Event.
func (e DoneEvent) GetType() EventType { return e.Type }

// ErrorEvent ends a failed request, or reports an unreadable command.
type ErrorEvent struct {
	eventBase
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

// NewErrorEvent constructs an error event classified by ErrorKind.
func NewErrorEvent(requestID string, err error) ErrorEvent {
	return ErrorEvent{
		eventBase: eventBase{Type: EventError, RequestID: requestID},
		Message:   err.Error(),
		Kind:      ErrorKind(err),
	}
}

// NewInvalidCommandEvent reports a command that could not be accepted.
func NewInvalidCommandEvent(requestID string, err error) ErrorEvent {
	ev := NewErrorEvent(requestID, err)
	ev.Kind = KindInvalidCommand
	return ev
}

// GetType implements Event.
func (e ErrorEvent) GetType() EventType { return e.Type }

// SessionEvent reports the conversation a completed answer was recorded in.
type SessionEvent struct {
	eventBase
	SessionID string `json:"session_id"`
	Turns     int    `json:"turns"`
}

// NewSessionEvent constructs a session event.
func NewSessionEvent(requestID, sessionID string, turns int) SessionEvent {
	return SessionEvent{
		eventBase: eventBase{Type: EventSession, RequestID: requestID},
		SessionID: sessionID,
		Turns:     turns,
	}
}

// GetType implements Event.
func (e SessionEvent) GetType() EventType { return e.Type }

// Error kinds shared by every adapter.
const (
	KindInvalidCommand = "invalid_command"
	KindAccess         = "access_denied"
	KindNotFound       = "not_found"
	KindSizeLimit      = "size_limit"
	KindProvider       = "provider_error"
	KindNotIndexed     = "not_indexed"
	KindSynthesis      = "synthesis_failed"
	KindEmptyInput     = "empty_input"
	KindSessionBusy    = "session_busy"
	KindTurnOrder      = "invalid_messages"
	KindCanceled       = "canceled"
	KindInternal       = "internal"
)

// ErrorKind classifies err into one of the Kind* constants.
func ErrorKind(err error) string {
	var (
		access    *engine.AccessError
		notFound  *engine.NotFoundError
		size      *engine.SizeLimitError
		provider  *engine.ProviderError
		notIdx    *engine.NotIndexedError
		synthesis *engine.SynthesisError
		empty     *engine.EmptyInputError
		busy      *engine.SessionBusyError
		order     *engine.TurnOrderError
	)
	switch {
	case errors.As(err, &access):
		return KindAccess
	case errors.As(err, &notFound):
		return KindNotFound
	case errors.As(err, &size):
		return KindSizeLimit
	case errors.As(err, &notIdx):
		return KindNotIndexed
	case errors.As(err, &synthesis):
		return KindSynthesis
	case errors.As(err, &empty):
		return KindEmptyInput
	case errors.As(err, &busy):
		return KindSessionBusy
	case errors.As(err, &order):
		return KindTurnOrder
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.As(err, &provider):
		return KindProvider
	default:
		return KindInternal
	}
}
