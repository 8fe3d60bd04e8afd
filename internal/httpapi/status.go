package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/quoroomlabs/quoroom/internal/update"
)

type statusResponse struct {
	Version           string             `json:"version"`
	UptimeSeconds     int64              `json:"uptimeSeconds"`
	DataDir           string             `json:"dataDir"`
	Rooms             int                `json:"rooms"`
	Workers           int                `json:"workers"`
	ActiveRuns        int                `json:"activeRuns"`
	UpdateDiagnostics update.Diagnostics `json:"updateDiagnostics"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		DataDir:       s.cfg.DataDir,
	}
	if s.updates != nil {
		resp.UpdateDiagnostics = s.updates.Diagnostics()
	}

	rooms, err := s.store.ListRooms(r.Context(), "")
	if err != nil {
		slog.Error("api.status_failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "status unavailable"})
		return
	}
	resp.Rooms = len(rooms)
	for _, room := range rooms {
		workers, err := s.store.ListWorkers(r.Context(), room.ID)
		if err == nil {
			resp.Workers += len(workers)
		}
		if n, err := s.store.CountActiveRuns(r.Context(), room.ID); err == nil {
			resp.ActiveRuns += n
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
