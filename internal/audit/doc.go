// Package audit delivers credential audit events asynchronously.
//
// # Components
//
//   - [Event]: one credential operation, scoped to realm, provider and authority.
//   - [Sink]: event consumer. [ChannelSink], [JSONWriterSink] and [LogSink]
//     are provided; [SinkFunc] adapts a function.
//   - [Dispatcher]: buffered relay that either drops or blocks when full.
//
// # Architecture boundaries
//
// This package owns buffering and delivery. The providers and flow functions
// decide which events to emit.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import goIdP or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
