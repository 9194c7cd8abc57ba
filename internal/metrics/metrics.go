package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	OTPIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otp_issued_total",
			Help: "Total number of one-time code issuance attempts.",
		},
		[]string{"purpose", "result"},
	)

	OTPVerifiedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otp_verified_total",
			Help: "Total number of one-time code verification attempts.",
		},
		[]string{"result"},
	)

	OTPCleanupDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "otp_cleanup_deleted_total",
			Help: "Total number of stale one-time codes removed.",
		},
	)

	EmailSendFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_send_failures_total",
			Help: "Total number of failed email deliveries by category.",
		},
		[]string{"category"},
	)

	AuthSignupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_signups_total",
			Help: "Total number of completed signup attempts.",
		},
		[]string{"role", "result"},
	)

	AuthLoginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Total number of login attempts.",
		},
		[]string{"result"},
	)
)

// MustRegister registers every collector on the default registry with a
// constant service label.
func MustRegister(serviceName string) {
	reg := prometheus.WrapRegistererWith(prometheus.Labels{"service": serviceName}, prometheus.DefaultRegisterer)

	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		OTPIssuedTotal,
		OTPVerifiedTotal,
		OTPCleanupDeletedTotal,
		EmailSendFailuresTotal,
		AuthSignupsTotal,
		AuthLoginsTotal,
	)
}
