package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	respondOK(w, r, discoveryResponse{
		Name:        "qcpipe API",
		Version:     "v1",
		Description: "Read-only status of the ORCA job pipeline",
		Endpoints: []endpointInfo{
			{"/api/v1/jobs", []string{"GET"}, "List job records. Filters: status, molecule, limit, offset"},
			{"/api/v1/jobs/lookup?key=", []string{"GET"}, "Single job record by input path"},
			{"/api/v1/jobs/attempts?key=", []string{"GET"}, "Attempt history of one job"},
			{"/api/v1/molecules/{molecule}/attempts", []string{"GET"}, "Attempt history of every job for a molecule"},
			{"/api/v1/history/summary", []string{"GET"}, "Attempt counts by outcome"},
			{"/api/v1/pool", []string{"GET"}, "Worker pool size and queue length"},
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
		},
	})
}
