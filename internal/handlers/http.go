package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"sdn-stats/internal/analytics"
	"sdn-stats/internal/cache"
	"sdn-stats/internal/controlcenter"
	"sdn-stats/internal/metrics"
	"sdn-stats/internal/models"
	"sdn-stats/internal/monitor"
	"sdn-stats/internal/series"
)

// DefaultDeviceMetrics are charted when a stats request names none.
var DefaultDeviceMetrics = []string{"cpu", "memory", "disk"}

// Monitors opens and tracks live stats monitors.
type Monitors interface {
	Device(ctx context.Context, ip string) (*monitor.DeviceMonitor, error)
	Ports(ctx context.Context, ip string, ports []string) (*monitor.PortMonitor, error)
	GetStats() map[string]interface{}
}

// Devices reads device inventory from the control center.
type Devices interface {
	ListDevices(ctx context.Context) ([]models.Device, error)
	DeviceDetails(ctx context.Context, ip string) (*models.DeviceDetails, error)
	BridgePortNames(ctx context.Context, ip, bridge string) ([]string, error)
}

// LatestStore serves the latest cached sample of a device or port.
type LatestStore interface {
	GetLatest(ctx context.Context, ip string) (*models.Sample, error)
	GetLatestPort(ctx context.Context, ip, port string) (*models.Sample, error)
	Ping(ctx context.Context) error
	GetStats() map[string]interface{}
}

// Handler serves the stats API
type Handler struct {
	monitors Monitors
	devices  Devices
	latest   LatestStore
}

// NewHandler creates a handler. latest may be nil when no cache is configured.
func NewHandler(monitors Monitors, devices Devices, latest LatestStore) *Handler {
	return &Handler{
		monitors: monitors,
		devices:  devices,
		latest:   latest,
	}
}

// Router registers every endpoint on a gorilla/mux router.
func (h *Handler) Router() *mux.Router {
	router := mux.NewRouter()

	route := func(path string, fn http.HandlerFunc) {
		router.Handle(path, instrument(path, fn)).Methods(http.MethodGet)
	}

	route("/devices", h.ListDevices)
	route("/devices/{ip}", h.GetDevice)
	route("/devices/{ip}/stats", h.DeviceStats)
	route("/devices/{ip}/stats/summary", h.DeviceSummary)
	route("/devices/{ip}/latest", h.Latest)
	route("/devices/{ip}/ports/stats", h.PortStats)
	route("/devices/{ip}/ports/{port}/latest", h.LatestPort)
	route("/health", h.HealthCheck)
	route("/stats", h.GetStats)

	return router
}

// ListDevices handles GET /devices
func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.devices.ListDevices(r.Context())
	if err != nil {
		log.Printf("failed to list devices: %v", err)
		writeError(w, http.StatusBadGateway, "control center unavailable")
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

// GetDevice handles GET /devices/{ip}
func (h *Handler) GetDevice(w http.ResponseWriter, r *http.Request) {
	ip, ok := target(w, r)
	if !ok {
		return
	}

	details, err := h.devices.DeviceDetails(r.Context(), ip)
	if errors.Is(err, controlcenter.ErrNotFound) {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}
	if err != nil {
		log.Printf("failed to get device %s: %v", ip, err)
		writeError(w, http.StatusBadGateway, "control center unavailable")
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// DeviceStats handles GET /devices/{ip}/stats
func (h *Handler) DeviceStats(w http.ResponseWriter, r *http.Request) {
	m, ok := h.deviceMonitor(w, r)
	if !ok {
		return
	}

	names := r.URL.Query()["metric"]
	if len(names) == 0 {
		names = DefaultDeviceMetrics
	}
	writeJSON(w, http.StatusOK, series.Adapt(m.Snapshot(), names...))
}

// DeviceSummary handles GET /devices/{ip}/stats/summary
func (h *Handler) DeviceSummary(w http.ResponseWriter, r *http.Request) {
	m, ok := h.deviceMonitor(w, r)
	if !ok {
		return
	}

	snapshot := m.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ip_address":        m.Target(),
		"samples":           len(snapshot),
		"retention_seconds": int(analytics.Retention / time.Second),
		"metrics":           analytics.Summarize(snapshot),
	})
}

// Latest handles GET /devices/{ip}/latest
func (h *Handler) Latest(w http.ResponseWriter, r *http.Request) {
	ip, ok := target(w, r)
	if !ok {
		return
	}
	if h.latest == nil {
		writeError(w, http.StatusNotFound, "latest-sample cache disabled")
		return
	}

	sample, err := h.latest.GetLatest(r.Context(), ip)
	writeLatest(w, ip, sample, err)
}

// LatestPort handles GET /devices/{ip}/ports/{port}/latest
func (h *Handler) LatestPort(w http.ResponseWriter, r *http.Request) {
	ip, ok := target(w, r)
	if !ok {
		return
	}
	if h.latest == nil {
		writeError(w, http.StatusNotFound, "latest-sample cache disabled")
		return
	}

	port := mux.Vars(r)["port"]
	sample, err := h.latest.GetLatestPort(r.Context(), ip, port)
	writeLatest(w, ip+"/"+port, sample, err)
}

func writeLatest(w http.ResponseWriter, subject string, sample *models.Sample, err error) {
	if errors.Is(err, cache.ErrMiss) {
		writeError(w, http.StatusNotFound, "no recent sample")
		return
	}
	if err != nil {
		log.Printf("failed to read latest sample of %s: %v", subject, err)
		writeError(w, http.StatusInternalServerError, "failed to read latest sample")
		return
	}
	writeJSON(w, http.StatusOK, sample)
}

// PortStats handles GET /devices/{ip}/ports/stats?port=..&bridge=..
func (h *Handler) PortStats(w http.ResponseWriter, r *http.Request) {
	ip, ok := target(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	ports := nonBlank(query["port"])
	if bridge := strings.TrimSpace(query.Get("bridge")); bridge != "" {
		names, err := h.devices.BridgePortNames(r.Context(), ip, bridge)
		if errors.Is(err, controlcenter.ErrNotFound) {
			writeError(w, http.StatusNotFound, "bridge not found")
			return
		}
		if err != nil {
			log.Printf("failed to resolve bridge %s on %s: %v", bridge, ip, err)
			writeError(w, http.StatusBadGateway, "control center unavailable")
			return
		}
		ports = append(ports, nonBlank(names)...)
	}
	if len(ports) == 0 {
		writeError(w, http.StatusBadRequest, "no ports selected")
		return
	}

	m, err := h.monitors.Ports(r.Context(), ip, ports)
	if err != nil {
		monitorError(w, ip, err)
		return
	}
	writeJSON(w, http.StatusOK, series.AdaptPorts(m.Snapshot(), monitor.ThroughputMetric))
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	httpStatus := http.StatusOK
	body := map[string]interface{}{
		"timestamp": time.Now(),
	}

	if h.latest != nil {
		redisOK := h.latest.Ping(r.Context()) == nil
		body["redis"] = redisOK
		if !redisOK {
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
		}
	}
	body["status"] = status

	writeJSON(w, httpStatus, body)
}

// GetStats handles GET /stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"monitors":  h.monitors.GetStats(),
		"timestamp": time.Now(),
	}
	if h.latest != nil {
		body["redis"] = h.latest.GetStats()
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) deviceMonitor(w http.ResponseWriter, r *http.Request) (*monitor.DeviceMonitor, bool) {
	ip, ok := target(w, r)
	if !ok {
		return nil, false
	}

	m, err := h.monitors.Device(r.Context(), ip)
	if err != nil {
		monitorError(w, ip, err)
		return nil, false
	}
	return m, true
}

// target reads and validates the {ip} route variable.
func target(w http.ResponseWriter, r *http.Request) (string, bool) {
	ip := strings.TrimSpace(mux.Vars(r)["ip"])
	if ip == "" || net.ParseIP(ip) == nil {
		writeError(w, http.StatusBadRequest, "invalid device address")
		return "", false
	}
	return ip, true
}

func monitorError(w http.ResponseWriter, ip string, err error) {
	if errors.Is(err, monitor.ErrRegistryClosed) {
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	log.Printf("failed to subscribe for %s: %v", ip, err)
	writeError(w, http.StatusBadGateway, "telemetry feed unavailable")
}

func nonBlank(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Encode will never fail with known data.
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument records request count and duration under the route template.
func instrument(endpoint string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next(rec, r)

		metrics.RequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
		metrics.RequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
	})
}
