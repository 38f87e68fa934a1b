package server

import (
	"net/http"
	"runtime"
	"time"
)

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
	Scheduler string `json:"scheduler"`
	History   string `json:"history"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {

	resp := healthResponse{
		Status:    "healthy",
		Version:   Version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Scheduler: "detached",
		History:   "disabled",
	}
	if s.pool != nil {
		resp.Scheduler = s.pool.Info().State
	}
	if s.history != nil {
		resp.History = "sqlite"
	}
	respondOK(w, r, resp)
}
