package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/resolvecore/resolver/pkg/notifier"
)

// handleSubscribeEvents implements SubscribeEvents(filter) -> stream of
// events (spec.md §6) as a server-sent-events stream: one "data: ..." frame
// per notifier.Event, newline-terminated per the SSE wire format.
func (s *server) handleSubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	filter := notifier.Filter{IncidentID: r.URL.Query().Get("incident_id")}
	if types := r.URL.Query().Get("types"); types != "" {
		for _, t := range strings.Split(types, ",") {
			filter.Types = append(filter.Types, notifier.EventType(t))
		}
	}

	sub := s.deps.notifier.Subscribe(filter, notifier.DropOldest)
	defer s.deps.notifier.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			s.deps.notifier.Disconnect(sub)
			return
		case event, open := <-sub.Events():
			if !open {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload)
			flusher.Flush()
		}
	}
}
