package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Outcome is the result of an audited credential operation.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Event records one credential operation performed by a provider.
// CredentialID is set when the operation touched a single credential.
type Event struct {
	Time         time.Time         `json:"time"`
	Realm        string            `json:"realm"`
	Provider     string            `json:"provider"`
	Authority    string            `json:"authority"`
	Action       string            `json:"action"`
	Outcome      Outcome           `json:"outcome"`
	AccountID    string            `json:"account_id,omitempty"`
	UserID       string            `json:"user_id,omitempty"`
	CredentialID string            `json:"credential_id,omitempty"`
	ClientIP     string            `json:"client_ip,omitempty"`
	UserAgent    string            `json:"user_agent,omitempty"`
	ErrorCode    string            `json:"error_code,omitempty"`
	Details      map[string]string `json:"details,omitempty"`
}

func (e Event) Succeeded() bool {
	return e.Outcome == OutcomeSuccess
}

// Fields flattens the event for structured loggers. Details are prefixed
// with "detail_" so they cannot shadow the fixed keys.
func (e Event) Fields() logrus.Fields {
	fields := logrus.Fields{
		"realm":     e.Realm,
		"provider":  e.Provider,
		"authority": e.Authority,
		"action":    e.Action,
		"outcome":   string(e.Outcome),
	}
	optional := map[string]string{
		"account_id":    e.AccountID,
		"user_id":       e.UserID,
		"credential_id": e.CredentialID,
		"client_ip":     e.ClientIP,
		"user_agent":    e.UserAgent,
		"error_code":    e.ErrorCode,
	}
	for k, v := range optional {
		if v != "" {
			fields[k] = v
		}
	}
	for k, v := range e.Details {
		fields["detail_"+k] = v
	}
	return fields
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(ctx context.Context, event Event)

func (f SinkFunc) Emit(ctx context.Context, event Event) {
	f(ctx, event)
}

func discard(context.Context, Event) {}

// ChannelSink forwards events into a buffered channel. Emit blocks while the
// channel is full unless ctx ends first.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink appends one JSON document per event to w.
type JSONWriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	if w == nil {
		return &JSONWriterSink{}
	}
	return &JSONWriterSink{enc: json.NewEncoder(w)}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.enc == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.enc.Encode(event)
}

// LogSink writes events to a logrus logger: successes at info, failures at
// warn.
type LogSink struct {
	log logrus.FieldLogger
}

func NewLogSink(log logrus.FieldLogger) *LogSink {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogSink{log: log.WithField("component", "audit")}
}

func (s *LogSink) Emit(_ context.Context, event Event) {
	entry := s.log.WithFields(event.Fields())
	if !event.Time.IsZero() {
		entry = entry.WithField("event_time", event.Time.UTC().Format(time.RFC3339Nano))
	}
	if event.Succeeded() {
		entry.Info("credential audit")
		return
	}
	entry.Warn("credential audit")
}
