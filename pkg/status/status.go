// Package status implements the Status & Metrics Server (SPEC_FULL.md
// component #12): a small read-only gin HTTP surface exposing `/status`,
// `/metrics` and `/debug/pprof`, mirrored on goProbe's
// pkg/api/server.DefaultServer wiring (gin + gin-contrib/cors +
// gin-contrib/pprof + els0r/telemetry/metrics + prometheus/client_golang),
// scaled down to flowtap's fixed, schema-free endpoint set.
package status

import (
	"context"
	"net/http"
	"sync"
	"time"

	elmetrics "github.com/els0r/telemetry/metrics"
	jsoniter "github.com/json-iterator/go"
	"github.com/gin-contrib/cors"
	ginpprof "github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Snapshot is the set of live component sizes the status endpoint reports
// and the metrics gauges mirror, sampled on demand (spec: no polling loop,
// every scrape/request calls back into the running pipeline).
type Snapshot struct {
	FlowTableEntries   int `json:"flow_table_entries"`
	TrackedConnections int `json:"tracked_connections"`
	ReassemblyBuffers  int `json:"reassembly_buffers"`
	ExportedFlows      uint64 `json:"exported_flows"`
	SinkErrors         uint64 `json:"sink_errors"`
}

// SnapshotFunc samples the current pipeline state. Implementations must be
// cheap and non-blocking -- called from the pipeline's own goroutine
// indirectly via the HTTP handler, which runs on a separate goroutine from
// the hot packet loop (spec §5: status is the one ambient component that is
// NOT thread-local to the capture loop).
type SnapshotFunc func() Snapshot

// Server is the status/metrics HTTP server.
type Server struct {
	addr   string
	router *gin.Engine
	srv    *http.Server
}

const (
	headerTimeout   = 10 * time.Second
	statusRateLimit = 5 // requests/sec
	statusRateBurst = 10
)

// New builds a Server bound to addr (host:port, spec §6's status-host/
// status-port), sampling snap on every /status request and registering
// prometheus gauges derived from it alongside request metrics on /metrics.
func New(addr string, debug bool, snap SnapshotFunc) *Server {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())

	limiter := rate.NewLimiter(statusRateLimit, statusRateBurst)
	router.GET("/status", rateLimited(limiter), statusHandler(snap))

	attachMetrics(router, snap)
	ginpprof.Register(router)

	return &Server{addr: addr, router: router}
}

var (
	metricsOnce sync.Once
	promMetrics *elmetrics.Prometheus
)

// attachMetrics wires els0r/telemetry/metrics' Prometheus middleware onto
// router, mirrored on goProbe's pkg/api/server.DefaultServer's WithMetrics
// option (metrics.NewPrometheus(serviceName, "api").Register(router)) with
// "status" as the subsystem instead of "api". It also registers GaugeFuncs
// sampling snap so they are scraped on the same /metrics endpoint the
// middleware installs.
//
// The middleware's collectors and the GaugeFuncs both register with the
// process-global prometheus registerer, so they are only registered once
// per process; a Server constructed after the first only attaches the
// shared middleware's handler and path to its own router; its snap is not
// separately scraped since the first Server's gauges already own those
// metric names.
func attachMetrics(router *gin.Engine, snap SnapshotFunc) {
	first := false
	metricsOnce.Do(func() {
		promMetrics = elmetrics.NewPrometheus("flowtap", "status")
		registerGaugeFuncs(snap)
		first = true
	})
	if first {
		promMetrics.Register(router)
		return
	}
	router.Use(promMetrics.HandlerFunc())
	promMetrics.SetMetricsPath(router)
}

func rateLimited(l *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow() {
			c.AbortWithStatus(http.StatusTooManyRequests)
			return
		}
		c.Next()
	}
}

func statusHandler(snap SnapshotFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		b, err := json.Marshal(snap())
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", b)
	}
}

func registerGaugeFuncs(snap SnapshotFunc) {
	prometheus.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "flowtap", Name: "flow_table_entries",
			Help: "Number of live entries in the flow table.",
		}, func() float64 { return float64(snap().FlowTableEntries) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "flowtap", Name: "tracked_connections",
			Help: "Number of connection tracker States.",
		}, func() float64 { return float64(snap().TrackedConnections) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "flowtap", Name: "reassembly_buffers",
			Help: "Number of in-flight IPv4 reassembly buffers.",
		}, func() float64 { return float64(snap().ReassemblyBuffers) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "flowtap", Name: "exported_flows_total",
			Help: "Cumulative count of flow records sent to the sink.",
		}, func() float64 { return float64(snap().ExportedFlows) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "flowtap", Name: "sink_errors_total",
			Help: "Cumulative count of sink-reported errors.",
		}, func() float64 { return float64(snap().SinkErrors) }),
	)
}

// ServeHTTP lets a Server be driven directly by an httptest.Recorder
// without binding a real listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run starts serving until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.router.Handler(),
		ReadHeaderTimeout: headerTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return s.srv.Shutdown(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
