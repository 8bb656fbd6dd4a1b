package api

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Status          string  `json:"status"`
	UptimeSeconds   float64 `json:"uptimeSeconds"`
	CatalogueLoaded bool    `json:"catalogueLoaded"`
}

// handleHealthz reports liveness: process uptime and whether the catalogue
// loaded successfully at start-up. New having returned a non-nil Server at
// all implies the catalogue loaded, since store.Open fails fast in main
// otherwise.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:          "ok",
		UptimeSeconds:   time.Since(s.startedAt).Seconds(),
		CatalogueLoaded: true,
	})
}
