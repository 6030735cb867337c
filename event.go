package goRecycle

import (
	"context"
	"io"
	"time"

	"github.com/MrEthical07/goRecycle/internal"
	"github.com/MrEthical07/goRecycle/internal/events"
	"github.com/sirupsen/logrus"
)

const (
	eventSessionStarted       = "session_started"
	eventSessionStartRejected = "session_start_rejected"
	eventSessionRestored      = "session_restored"
	eventSessionExpired       = "session_expired"
	eventSessionClosed        = "session_closed"
	eventScanAccepted         = "scan_accepted"
	eventScanRejected         = "scan_rejected"
	eventScanDiscarded        = "scan_discarded"
	eventProofRequired        = "proof_required"
	eventProofUploaded        = "proof_uploaded"
	eventProofRejected        = "proof_rejected"
	eventAuthLogin            = "auth_login"
	eventAuthLogout           = "auth_logout"
	eventAuthInvalidated      = "auth_invalidated"
	eventNetworkStatusChanged = "network_status_changed"
	eventPersistenceFailure   = "persistence_failure"
)

// Event is a client lifecycle event delivered to an [EventSink].
type Event = events.Event

// EventSink receives client events. Emit is called from a single dispatcher goroutine.
type EventSink = events.Sink

type (
	NoOpSink       = events.NoOpSink
	ChannelSink    = events.ChannelSink
	JSONWriterSink = events.JSONWriterSink
	LogrusSink     = events.LogrusSink
)

func NewChannelSink(buffer int) *ChannelSink {
	return events.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return events.NewJSONWriterSink(w)
}

func NewLogrusSink(log logrus.FieldLogger) *LogrusSink {
	return events.NewLogrusSink(log)
}

func (c *Client) emit(ctx context.Context, eventType, bin, sessionToken, code string, err error, metadata map[string]string) {
	if c == nil || c.events == nil {
		return
	}
	ev := Event{
		Timestamp: c.clock(),
		EventType: eventType,
		Bin:       bin,
		Session:   internal.Fingerprint(sessionToken),
		Code:      code,
		Success:   err == nil,
		Metadata:  metadata,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	c.events.Emit(ctx, ev)
}

func (c *Client) emitAt(at time.Time, eventType, bin, sessionToken string, metadata map[string]string) {
	if c == nil || c.events == nil {
		return
	}
	c.events.Emit(context.Background(), Event{
		Timestamp: at,
		EventType: eventType,
		Bin:       bin,
		Session:   internal.Fingerprint(sessionToken),
		Success:   true,
		Metadata:  metadata,
	})
}
