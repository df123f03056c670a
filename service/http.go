package service

import (
	"encoding/json"
	"net/http"
)

// HealthHandler serves svc.Health() as JSON. The gateway mounts it on
// the metrics server's /health route. An unhealthy platform answers
// 503; degraded answers 200, since a component riding out a reconnect
// should not fail the probe.
func HealthHandler(svc Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := svc.Health()

		code := http.StatusOK
		if status.IsUnhealthy() {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})
}
