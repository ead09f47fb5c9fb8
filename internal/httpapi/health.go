package httpapi

import (
	"context"
	"net/http"
	"time"
)

// HealthStatus is the /health response body.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Redis     string    `json:"redis"`
	KeyPool   PoolState `json:"key_pool"`
	Warnings  []string  `json:"warnings,omitempty"`
}

// PoolState summarizes the API key pool.
type PoolState struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Cooling int `json:"cooling"`
	Burned  int `json:"burned"`
}

// handleHealth reports backend connectivity and configuration safety.
// Degraded states return 200 with details; only a dead broker is a 503,
// since nothing can run without it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	hs := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Redis:     "ok",
	}

	if err := s.deps.Redis.Ping(ctx); err != nil {
		hs.Status = "unavailable"
		hs.Redis = err.Error()
	}

	if s.deps.Pool != nil {
		active, cooling, burned := s.deps.Pool.Counts()
		hs.KeyPool = PoolState{
			Total:   s.deps.Pool.Size(),
			Active:  active,
			Cooling: cooling,
			Burned:  burned,
		}
		if active == 0 {
			hs.Status = degrade(hs.Status)
			hs.Warnings = append(hs.Warnings, "no active API keys")
		}
	}

	if s.deps.Cfg != nil {
		for _, unsafe := range s.deps.Cfg.UnsafeSecrets() {
			hs.Status = degrade(hs.Status)
			hs.Warnings = append(hs.Warnings, "unsafe config: "+unsafe)
		}
	}

	if hs.Status == "unavailable" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	writeJSON(w, hs)
}

func degrade(current string) string {
	if current == "unavailable" {
		return current
	}
	return "degraded"
}
