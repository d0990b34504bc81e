package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/playperu/snapbooth/internal/runtime"
)

// viewFeed hands runtime views to one reader. Only the newest view is kept,
// so a slow reader skips intermediate states instead of stalling.
type viewFeed struct {
	ch chan runtime.View
}

func newViewFeed() *viewFeed {
	return &viewFeed{ch: make(chan runtime.View, 1)}
}

func (f *viewFeed) push(v runtime.View) {
	for {
		select {
		case f.ch <- v:
			return
		default:
		}
		select {
		case <-f.ch:
		default:
		}
	}
}

func handleEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}

		rt := guestFrom(r).Runtime

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		feed := newViewFeed()
		cancel := rt.Subscribe(feed.push)
		defer cancel()

		writeViewEvent(w, rt.View())
		flusher.Flush()

		ping := time.NewTicker(30 * time.Second)
		defer ping.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case v := <-feed.ch:
				writeViewEvent(w, v)
				flusher.Flush()
			case <-ping.C:
				fmt.Fprintf(w, ": ping\n\n")
				flusher.Flush()
			}
		}
	}
}

func writeViewEvent(w http.ResponseWriter, v runtime.View) {
	data, _ := json.Marshal(v)
	fmt.Fprintf(w, "event: view\nid: %d\ndata: %s\n\n", v.Revision, data)
}
