package server

import (
	"net/http"
)

// setupRoutes wires all HTTP routes. The /jobs/ surface keeps its exact
// paths because external callers poll and cancel by URL.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Job queue API
	mux.HandleFunc("/jobs/upload-excel-async", s.app.JobHandler.UploadExcelAsyncHandler)
	mux.HandleFunc("/jobs/fetch-etf-holdings", s.app.JobHandler.FetchETFHoldingsHandler)
	mux.HandleFunc("/jobs/stats", s.app.JobHandler.StatsHandler)
	mux.HandleFunc("/jobs/", s.app.JobHandler.RouteJobPath) // {id}, {id}/status, {id}/result, admin/*

	// Upload records
	mux.HandleFunc("/files/", s.app.FileHandler.RouteFilePath)

	// Live event stream
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// Service endpoints
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}
