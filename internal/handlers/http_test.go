package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"time"

	"sdn-stats/internal/analytics"
	"sdn-stats/internal/cache"
	"sdn-stats/internal/controlcenter"
	"sdn-stats/internal/handlers"
	"sdn-stats/internal/models"
	"sdn-stats/internal/monitor"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Handler", func() {
	var (
		clock    *fixedClock
		monitors *fakeMonitors
		devices  *fakeDevices
		latest   *fakeLatest
		router   http.Handler
	)

	serve := func(path string) *httptest.ResponseRecorder {
		r, err := http.NewRequest(http.MethodGet, path, nil)
		Expect(err).ToNot(HaveOccurred())

		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)
		return w
	}

	BeforeEach(func() {
		clock = &fixedClock{now: time.Date(2025, 3, 1, 10, 15, 0, 0, time.UTC)}
		monitors = newFakeMonitors(clock)
		devices = &fakeDevices{
			devices: []models.Device{{Name: "sw-1", LanIPAddress: "10.0.0.5", NumPorts: 4}},
			bridges: map[string][]string{"br0": {"eth1", "eth2"}},
		}
		latest = &fakeLatest{samples: map[string]models.Sample{}}
		router = handlers.NewHandler(monitors, devices, latest).Router()
	})

	Describe("GET /devices/{ip}/stats", func() {
		It("returns the window as chart points", func() {
			m, err := monitors.Device(context.Background(), "10.0.0.5")
			Expect(err).ToNot(HaveOccurred())
			m.Handle(deviceMsg("10.0.0.5", map[string]any{"cpu": 42.0, "memory": 10.0, "disk": 3.0, "uptime": 9.0}))
			m.Handle(deviceMsg("10.0.0.9", map[string]any{"cpu": 99.0}))

			w := serve("/devices/10.0.0.5/stats")

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Header().Get("Content-Type")).To(Equal("application/json"))
			Expect(w.Body.String()).To(MatchJSON(`[{"time":"10:15:00","cpu":42,"disk":3,"memory":10}]`))
		})

		It("keeps only the requested metrics", func() {
			m, _ := monitors.Device(context.Background(), "10.0.0.5")
			m.Handle(deviceMsg("10.0.0.5", map[string]any{"cpu": 42.0, "uptime": 9.0}))

			w := serve("/devices/10.0.0.5/stats?metric=uptime")

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(MatchJSON(`[{"time":"10:15:00","uptime":9}]`))
		})

		It("returns an empty list before any sample arrives", func() {
			w := serve("/devices/10.0.0.5/stats")

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(MatchJSON(`[]`))
			Expect(monitors.deviceCalls).To(Equal([]string{"10.0.0.5"}))
		})

		It("rejects an invalid address", func() {
			w := serve("/devices/not-an-ip/stats")

			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(w.Body.String()).To(MatchJSON(`{"error":"invalid device address"}`))
			Expect(monitors.deviceCalls).To(BeEmpty())
		})

		It("returns 502 when the feed cannot be dialled", func() {
			monitors.err = errors.New("dial tcp: connection refused")

			w := serve("/devices/10.0.0.5/stats")

			Expect(w.Code).To(Equal(http.StatusBadGateway))
			Expect(w.Body.String()).To(MatchJSON(`{"error":"telemetry feed unavailable"}`))
		})

		It("returns 503 once the registry is closed", func() {
			monitors.err = monitor.ErrRegistryClosed

			w := serve("/devices/10.0.0.5/stats")

			Expect(w.Code).To(Equal(http.StatusServiceUnavailable))
		})

		It("only answers GET", func() {
			r, err := http.NewRequest(http.MethodPost, "/devices/10.0.0.5/stats", nil)
			Expect(err).ToNot(HaveOccurred())

			w := httptest.NewRecorder()
			router.ServeHTTP(w, r)

			Expect(w.Code).To(Equal(http.StatusMethodNotAllowed))
		})
	})

	Describe("GET /devices/{ip}/stats/summary", func() {
		It("summarises each metric in the window", func() {
			m, _ := monitors.Device(context.Background(), "10.0.0.5")
			m.Handle(deviceMsg("10.0.0.5", map[string]any{"cpu": 40.0}))
			clock.Advance(time.Second)
			m.Handle(deviceMsg("10.0.0.5", map[string]any{"cpu": 60.0}))

			w := serve("/devices/10.0.0.5/stats/summary")
			Expect(w.Code).To(Equal(http.StatusOK))

			var body struct {
				IP      string                       `json:"ip_address"`
				Samples int                          `json:"samples"`
				Metrics map[string]analytics.Summary `json:"metrics"`
			}
			Expect(json.Unmarshal(w.Body.Bytes(), &body)).To(Succeed())
			Expect(body.IP).To(Equal("10.0.0.5"))
			Expect(body.Samples).To(Equal(2))
			Expect(body.Metrics["cpu"].Count).To(Equal(2))
			Expect(body.Metrics["cpu"].Avg).To(BeNumerically("~", 50))
			Expect(body.Metrics["cpu"].Last).To(BeNumerically("~", 60))
		})
	})

	Describe("GET /devices/{ip}/ports/stats", func() {
		It("returns one series per selected port", func() {
			w := serve("/devices/10.0.0.5/ports/stats?port=2&port=1&port=%20")
			Expect(w.Code).To(Equal(http.StatusOK))

			m := monitors.portMonitors["10.0.0.5|1,2"]
			Expect(m).ToNot(BeNil())
			m.Handle(portMsg("10.0.0.5", map[string]any{"1": 12.5, "2": 3.0, "3": 7.0}))

			w = serve("/devices/10.0.0.5/ports/stats?port=1&port=2")
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(MatchJSON(`[
				{"ip_address":"10.0.0.5","port":"1","metric":"throughput","points":[{"time":"10:15:00","value":12.5}]},
				{"ip_address":"10.0.0.5","port":"2","metric":"throughput","points":[{"time":"10:15:00","value":3}]}
			]`))
		})

		It("derives the port set from a bridge", func() {
			w := serve("/devices/10.0.0.5/ports/stats?bridge=br0")

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(monitors.portMonitors).To(HaveKey("10.0.0.5|eth1,eth2"))
		})

		It("returns 404 for an unknown bridge", func() {
			w := serve("/devices/10.0.0.5/ports/stats?bridge=br9")

			Expect(w.Code).To(Equal(http.StatusNotFound))
			Expect(w.Body.String()).To(MatchJSON(`{"error":"bridge not found"}`))
		})

		It("returns 400 without a port selection", func() {
			w := serve("/devices/10.0.0.5/ports/stats")

			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(monitors.portMonitors).To(BeEmpty())
		})
	})

	Describe("GET /devices and /devices/{ip}", func() {
		It("lists devices from the control center", func() {
			w := serve("/devices")

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(ContainSubstring(`"lan_ip_address":"10.0.0.5"`))
		})

		It("returns 502 when the control center fails", func() {
			devices.err = errors.New("connection refused")

			w := serve("/devices")

			Expect(w.Code).To(Equal(http.StatusBadGateway))
		})

		It("returns 404 for an unknown device", func() {
			w := serve("/devices/10.0.0.7")

			Expect(w.Code).To(Equal(http.StatusNotFound))
		})

		It("returns device details", func() {
			w := serve("/devices/10.0.0.5")

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(ContainSubstring(`"name":"br0"`))
		})
	})

	Describe("GET /devices/{ip}/latest", func() {
		It("returns the cached sample", func() {
			latest.samples["10.0.0.5"] = models.Sample{
				Timestamp: clock.Now(),
				Subject:   "10.0.0.5",
				Metrics:   map[string]float64{"cpu": 42},
			}

			w := serve("/devices/10.0.0.5/latest")

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(ContainSubstring(`"cpu":42`))
		})

		It("returns the cached sample of a port", func() {
			latest.samples["10.0.0.5/eth1"] = models.Sample{
				Timestamp: clock.Now(),
				Subject:   "10.0.0.5",
				Port:      "eth1",
				Metrics:   map[string]float64{"throughput": 8.5},
			}

			w := serve("/devices/10.0.0.5/ports/eth1/latest")

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(ContainSubstring(`"throughput":8.5`))
		})

		It("returns 404 on a miss", func() {
			w := serve("/devices/10.0.0.5/latest")

			Expect(w.Code).To(Equal(http.StatusNotFound))
		})

		It("returns 404 when no cache is configured", func() {
			router = handlers.NewHandler(monitors, devices, nil).Router()

			w := serve("/devices/10.0.0.5/latest")

			Expect(w.Code).To(Equal(http.StatusNotFound))
			Expect(w.Body.String()).To(MatchJSON(`{"error":"latest-sample cache disabled"}`))
		})
	})

	Describe("GET /health", func() {
		It("is healthy without a cache", func() {
			router = handlers.NewHandler(monitors, devices, nil).Router()

			w := serve("/health")

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).ToNot(ContainSubstring("redis"))
		})

		It("is degraded when redis is down", func() {
			latest.pingErr = errors.New("connection refused")

			w := serve("/health")

			Expect(w.Code).To(Equal(http.StatusServiceUnavailable))
			Expect(w.Body.String()).To(ContainSubstring(`"status":"degraded"`))
		})
	})

	Describe("GET /stats", func() {
		It("reports monitor and redis state", func() {
			w := serve("/stats")

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(ContainSubstring(`"monitors"`))
			Expect(w.Body.String()).To(ContainSubstring(`"idle_conns"`))
		})
	})
})

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

func (c *fixedClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fakeMonitors struct {
	clock          analytics.Clock
	err            error
	deviceCalls    []string
	deviceMonitors map[string]*monitor.DeviceMonitor
	portMonitors   map[string]*monitor.PortMonitor
}

func newFakeMonitors(clock analytics.Clock) *fakeMonitors {
	return &fakeMonitors{
		clock:          clock,
		deviceMonitors: make(map[string]*monitor.DeviceMonitor),
		portMonitors:   make(map[string]*monitor.PortMonitor),
	}
}

func (f *fakeMonitors) Device(_ context.Context, ip string) (*monitor.DeviceMonitor, error) {
	f.deviceCalls = append(f.deviceCalls, ip)
	if f.err != nil {
		return nil, f.err
	}
	m, ok := f.deviceMonitors[ip]
	if !ok {
		m = monitor.NewDeviceMonitor(ip, f.clock, nil)
		f.deviceMonitors[ip] = m
	}
	return m, nil
}

func (f *fakeMonitors) Ports(_ context.Context, ip string, ports []string) (*monitor.PortMonitor, error) {
	if f.err != nil {
		return nil, f.err
	}
	sorted := append([]string(nil), ports...)
	sort.Strings(sorted)
	key := ip + "|" + strings.Join(sorted, ",")

	m, ok := f.portMonitors[key]
	if !ok {
		m = monitor.NewPortMonitor(ip, sorted, f.clock, nil)
		f.portMonitors[key] = m
	}
	return m, nil
}

func (f *fakeMonitors) GetStats() map[string]interface{} {
	return map[string]interface{}{"devices_watched": len(f.deviceMonitors)}
}

type fakeDevices struct {
	devices []models.Device
	bridges map[string][]string
	err     error
}

func (f *fakeDevices) ListDevices(context.Context) ([]models.Device, error) {
	return f.devices, f.err
}

func (f *fakeDevices) DeviceDetails(_ context.Context, ip string) (*models.DeviceDetails, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, d := range f.devices {
		if d.LanIPAddress == ip {
			details := &models.DeviceDetails{Device: d}
			for name, ports := range f.bridges {
				b := models.Bridge{Name: name}
				for _, p := range ports {
					b.Ports = append(b.Ports, models.Port{Name: p})
				}
				details.Bridges = append(details.Bridges, b)
			}
			return details, nil
		}
	}
	return nil, fmt.Errorf("device %s: %w", ip, controlcenter.ErrNotFound)
}

func (f *fakeDevices) BridgePortNames(_ context.Context, ip, bridge string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	ports, ok := f.bridges[bridge]
	if !ok {
		return nil, fmt.Errorf("bridge %s on %s: %w", bridge, ip, controlcenter.ErrNotFound)
	}
	return ports, nil
}

type fakeLatest struct {
	samples map[string]models.Sample
	pingErr error
}

func (f *fakeLatest) GetLatest(_ context.Context, ip string) (*models.Sample, error) {
	s, ok := f.samples[ip]
	if !ok {
		return nil, cache.ErrMiss
	}
	return &s, nil
}

func (f *fakeLatest) GetLatestPort(_ context.Context, ip, port string) (*models.Sample, error) {
	s, ok := f.samples[ip+"/"+port]
	if !ok {
		return nil, cache.ErrMiss
	}
	return &s, nil
}

func (f *fakeLatest) Ping(context.Context) error { return f.pingErr }

func (f *fakeLatest) GetStats() map[string]interface{} {
	return map[string]interface{}{"idle_conns": 1}
}

func deviceMsg(ip string, metrics map[string]any) map[string]any {
	data := map[string]any{"ip_address": ip}
	for k, v := range metrics {
		data[k] = v
	}
	return map[string]any{"data": data}
}

func portMsg(ip string, ports map[string]any) map[string]any {
	return map[string]any{"data": map[string]any{"ip_address": ip, "ports": ports}}
}
