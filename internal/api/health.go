package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

type HealthResponse struct {
	Status        string             `json:"status"`
	Version       string             `json:"version"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Engine        string             `json:"engine,omitempty"`
	Checks        map[string]string  `json:"checks"`
	Watcher       *WatcherStatusData `json:"watcher,omitempty"`
}

// DBChecker is satisfied by *database.DB.
type DBChecker interface {
	HealthCheck(ctx context.Context) error
}

// BrokerStatus is satisfied by *mqttclient.Client.
type BrokerStatus interface {
	IsConnected() bool
}

type HealthHandler struct {
	db        DBChecker
	mqtt      BrokerStatus
	watcher   WatcherSource
	engine    string
	version   string
	startTime time.Time
}

// NewHealthHandler builds the health endpoint. db, mqtt and watcher may be
// nil when the corresponding feature is not configured.
func NewHealthHandler(db DBChecker, mqtt BrokerStatus, watcher WatcherSource, engine, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		db:        db,
		mqtt:      mqtt,
		watcher:   watcher,
		engine:    engine,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		err := h.db.HealthCheck(ctx)
		cancel()
		if err != nil {
			checks["database"] = "error"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not_configured"
	}

	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			if status == "healthy" {
				status = "degraded"
			}
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	var ws *WatcherStatusData
	if h.watcher != nil {
		ws = h.watcher.WatcherStatus()
	}
	if ws != nil {
		checks["file_watcher"] = ws.Status
		if ws.Status == "stopped" && status == "healthy" {
			status = "degraded"
		}
	} else {
		checks["file_watcher"] = "not_configured"
	}

	resp := HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Engine:        h.engine,
		Checks:        checks,
		Watcher:       ws,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(resp)
}
