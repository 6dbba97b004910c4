package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// ProbeState is what the probes need to know about the running sweeper.
type ProbeState interface {
	ShuttingDown() bool
	LastSuccess() time.Time
}

// RegisterProbes mounts /healthz and /readyz. Readiness fails while shutting
// down or when the database does not answer a ping within half a second.
func RegisterProbes(mux *http.ServeMux, db Pinger, state ProbeState) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeProbe(w, http.StatusOK, map[string]any{"status": "ok"})
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"status": "ready"}
		if last := state.LastSuccess(); !last.IsZero() {
			body["lastSweep"] = last.Format(time.RFC3339)
		}

		if state.ShuttingDown() {
			body["status"] = "shutting_down"
			writeProbe(w, http.StatusServiceUnavailable, body)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			body["status"] = "db_unavailable"
			writeProbe(w, http.StatusServiceUnavailable, body)
			return
		}

		writeProbe(w, http.StatusOK, body)
	})
}

func writeProbe(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
