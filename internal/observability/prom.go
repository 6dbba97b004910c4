package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

type Prom struct {
	RequestsTotal    *prometheus.CounterVec
	RequestsDuration *prometheus.HistogramVec
	InFlight         *prometheus.GaugeVec
	// DB
	DbQueryDuration *prometheus.HistogramVec
	DbErrorsTotal   *prometheus.CounterVec

	// Auth
	AuthEventsTotal *prometheus.CounterVec
	HashDuration    *prometheus.HistogramVec

	// 0 closed, 1 open, 2 half open
	MailBreakerState prometheus.Gauge

	// reset sweeper
	ResetSweeps *prometheus.CounterVec
	ResetPurged prometheus.Counter
}

func NewProm(reg prometheus.Registerer) *Prom {
	p := &Prom{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tourhub",
				Name:      "http_requests_total",
				Help:      "Total HTTP requests processed",
			},
			[]string{"method", "route", "status"},
		),
		RequestsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tourhub",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency distributions.",
				// bcrypt at cost 12 sits around 250ms
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "route", "status"},
		),
		InFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "tourhub",
				Name:      "http_in_flight_requests",
				Help:      "Current number of in-flight HTTP requests.",
			},
			[]string{"method", "route"},
		),
		DbQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tourhub",
				Subsystem: "db",
				Name:      "query_duration_seconds",
				Help:      "DB operation latency (logical op, not raw SQL)",
				Buckets:   []float64{0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.35, 0.5, 1, 2, 5},
			},
			[]string{"op", "status"},
		),
		DbErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tourhub",
				Subsystem: "db",
				Name:      "errors_total",
				Help:      "DB errors by logical op and class.",
			},
			[]string{"op", "class"},
		),
		AuthEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tourhub",
				Subsystem: "auth",
				Name:      "events_total",
				Help:      "Account flow outcomes by operation and result.",
			},
			[]string{"op", "result"}, // result=ok|<apperr kind>
		),
		HashDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tourhub",
				Subsystem: "auth",
				Name:      "hash_duration_seconds",
				Help:      "Password hash and verify latency, including queueing.",
				Buckets:   []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.75, 1, 2, 5},
			},
			[]string{"op"}, // op=hash|verify
		),
		MailBreakerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "tourhub",
				Subsystem: "mail",
				Name:      "breaker_state",
				Help:      "Mail provider circuit state (0 closed, 1 open, 2 half open).",
			},
		),
		ResetSweeps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tourhub",
				Subsystem: "reset_sweeper",
				Name:      "runs_total",
				Help:      "Expired reset token sweeps by result.",
			},
			[]string{"result"},
		),
		ResetPurged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tourhub",
				Subsystem: "reset_sweeper",
				Name:      "purged_total",
				Help:      "Expired reset tokens cleared by the sweeper.",
			},
		),
	}
	reg.MustRegister(
		p.RequestsTotal, p.RequestsDuration, p.InFlight,
		p.DbQueryDuration, p.DbErrorsTotal,
		p.AuthEventsTotal, p.HashDuration,
		p.MailBreakerState,
		p.ResetSweeps, p.ResetPurged,
	)

	return p
}

// AuthEvent records the outcome of one account flow.
func (p *Prom) AuthEvent(op, result string) {
	p.AuthEventsTotal.WithLabelValues(op, result).Inc()
}

func (p *Prom) ObserveHash(op string, d time.Duration) {
	p.HashDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (p *Prom) SweepDone(purged int64, err error) {
	if err != nil {
		p.ResetSweeps.WithLabelValues("error").Inc()
		return
	}
	p.ResetSweeps.WithLabelValues("ok").Inc()
	p.ResetPurged.Add(float64(purged))
}

func (p *Prom) GinHandleMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()

		// route template is only available after routing; best effort:
		route := ctx.FullPath()

		if route == "" {
			route = "unmatched"
		}

		method := ctx.Request.Method
		p.InFlight.WithLabelValues(method, route).Inc()
		defer p.InFlight.WithLabelValues(method, route).Dec()
		ctx.Next()

		status := strconv.Itoa(ctx.Writer.Status())
		secs := time.Since(start).Seconds()

		p.RequestsTotal.WithLabelValues(method, route, status).Inc()
		p.RequestsDuration.WithLabelValues(method, route, status).Observe(secs)
	}
}
