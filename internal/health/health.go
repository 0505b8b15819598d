package health

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/clambin/solar-ac-controller/internal/controller"
)

// SnapshotSource hands out the last cycle's snapshot.
type SnapshotSource interface {
	Snapshot() (controller.Snapshot, bool)
}

// Refresher triggers an out-of-band telemetry poll.
type Refresher interface {
	Refresh()
}

// Health serves the last decision snapshot. Until the first cycle has
// completed it reports unavailable and kicks the poller.
type Health struct {
	Source SnapshotSource
	Poller Refresher
	Logger *slog.Logger
}

func (h *Health) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	snapshot, ok := h.Source.Snapshot()
	if !ok {
		http.Error(w, "no update yet", http.StatusServiceUnavailable)
		h.Poller.Refresh()
		return
	}

	w.Header().Set("Content-Type", "application/json")

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(snapshot); err != nil {
		h.Logger.Error("failed to encode snapshot", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
