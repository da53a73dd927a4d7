package httpserver

// registerV1Routes sets up the versioned API structure
// Groups: /api/v1/stations, /api/v1/observations, /api/v1/flows, /api/v1/realtime
func (s *Server) registerV1Routes() {
	v1 := s.router.Group("/api/v1")
	v1.Use(apiVersionMiddleware()) // Add X-API-Version: v1 header

	// Station endpoints - registry, history and corrections
	stations := v1.Group("/stations")
	{
		stations.GET("", s.handleV1ListStations)
		stations.POST("", s.handleV1UpsertStation)
		stations.GET("/:id", s.handleV1GetStation)
		stations.GET("/:id/snapshots", s.handleV1StationSnapshots)
		stations.GET("/:id/corrections", s.handleV1StationCorrections)
		stations.POST("/:id/capacity", s.handleV1CorrectCapacity)
		stations.POST("/:id/rebuild", s.handleV1RebuildFlows)
	}

	// Ingest endpoint - push observations without going through Kafka
	observations := v1.Group("/observations")
	{
		observations.POST("", s.handleV1IngestObservation)
	}

	// Flow endpoints - bucketed aggregates and rankings
	flows := v1.Group("/flows")
	{
		flows.GET("", s.handleV1QueryFlows)
	}
	v1.GET("/rankings", s.handleV1Rankings)

	// Realtime endpoints - latest network state
	realtime := v1.Group("/realtime")
	{
		realtime.GET("/now", s.handleV1RealtimeNow)
	}
}
