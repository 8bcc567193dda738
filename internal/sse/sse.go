// Package sse implements the Stream Dispatcher (C8): translates a Query
// Pipeline or Auto-Investigator event stream into Server-Sent Events,
// admits the invocation through the rate/budget gate before starting,
// detects client disconnect to cancel the root deadline, and emits a
// keepalive comment during silence. Grounded on the teacher's
// handler/chat.go's sendEvent/flush loop, generalized from its
// token/citations/confidence/done event set to the C5/C6 event vocabulary
// (status/sources/chunk/suggestions/auto_query/auto_complete/error/done).
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/connexus-ai/docengine-backend/internal/pipeline"
)

// keepaliveInterval matches §4.8: "keepalive comment every 15s of
// silence."
const keepaliveInterval = 15 * time.Second

// Admitter is the read-only half of C4 the dispatcher checks before
// starting any work (§4.8: "admission via the rate/budget gate before
// starting").
type Admitter interface {
	CheckRate(ctx context.Context, clientIP string) error
}

// Dispatcher writes a pipeline.Event stream to an http.ResponseWriter as
// Server-Sent Events.
type Dispatcher struct {
	admitter Admitter
}

// New creates a Dispatcher. admitter may be nil, in which case Stream
// makes no admission check.
func New(admitter Admitter) *Dispatcher {
	return &Dispatcher{admitter: admitter}
}

// Stream admits clientIP, then runs work, translating every event it
// emits into an SSE frame written to w, flushing immediately after each
// one. It returns once work's context is done or work returns. A 15s
// keepalive comment is emitted during any gap in events. Client
// disconnect (detected via r.Context().Done()) cancels the context passed
// to work.
func (d *Dispatcher) Stream(w http.ResponseWriter, r *http.Request, deadline time.Duration, work func(ctx context.Context, emit pipeline.Emit) error) {
	ctx, cancel := context.WithTimeout(r.Context(), deadline)
	defer cancel()

	clientIP := clientIPFrom(r)
	if d.admitter != nil {
		if err := d.admitter.CheckRate(ctx, clientIP); err != nil {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	events := make(chan pipeline.Event, 16)
	done := make(chan error, 1)

	go func() {
		defer close(events)
		done <- work(ctx, func(e pipeline.Event) { events <- e })
	}()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case e, ok := <-events:
			if !ok {
				<-done
				return
			}
			writeFrame(w, flusher, e.Type, e.Payload)
			keepalive.Reset(keepaliveInterval)
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func writeFrame(w http.ResponseWriter, f http.Flusher, eventType pipeline.EventType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(`{}`)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data)
	f.Flush()
}

func clientIPFrom(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
