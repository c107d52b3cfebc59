package goIdP

import (
	"io"

	internalaudit "github.com/MrEthical07/goIdP/internal/audit"
	"github.com/sirupsen/logrus"
)

// AuditEvent is one security-relevant record emitted by a provider.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the asynchronous dispatcher.
// Emit is called from a single dispatcher goroutine per provider.
type AuditSink = internalaudit.Sink

// AuditOutcome is the result recorded on an [AuditEvent].
type AuditOutcome = internalaudit.Outcome

const (
	AuditSuccess = internalaudit.OutcomeSuccess
	AuditFailure = internalaudit.OutcomeFailure
)

// AuditSinkFunc adapts a function to [AuditSink].
type AuditSinkFunc = internalaudit.SinkFunc

// ChannelSink forwards events into a buffered channel, mainly for tests.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes events as newline-delimited JSON.
type JSONWriterSink = internalaudit.JSONWriterSink

// LogSink writes events to a logrus logger.
type LogSink = internalaudit.LogSink

// NewChannelSink returns a [ChannelSink] with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a [JSONWriterSink] writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewLogSink returns a [LogSink] writing through log, or the standard logger
// when log is nil.
func NewLogSink(log logrus.FieldLogger) *LogSink {
	return internalaudit.NewLogSink(log)
}
