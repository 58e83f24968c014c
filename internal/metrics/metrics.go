package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Notifications pushed, by type and outcome.",
		},
		[]string{"service", "type", "outcome"},
	)

	ConnectedClients = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "connected_clients",
			Help: "Devices currently connected to the gateway.",
		},
		[]string{"service"},
	)

	ActiveTransfers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "active_transfers",
			Help: "Relay transfers currently paired.",
		},
		[]string{"service"},
	)

	RelayBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_bytes_total",
			Help: "Bytes forwarded through the relay.",
		},
		[]string{"service"},
	)
)

func MustRegister(serviceName string) {
	HTTPRequestsTotal = HTTPRequestsTotal.MustCurryWith(prometheus.Labels{"service": serviceName})
	HTTPRequestDurationSeconds = HTTPRequestDurationSeconds.MustCurryWith(prometheus.Labels{"service": serviceName}).(*prometheus.HistogramVec)
	NotificationsTotal = NotificationsTotal.MustCurryWith(prometheus.Labels{"service": serviceName})
	ConnectedClients = ConnectedClients.MustCurryWith(prometheus.Labels{"service": serviceName})
	ActiveTransfers = ActiveTransfers.MustCurryWith(prometheus.Labels{"service": serviceName})
	RelayBytesTotal = RelayBytesTotal.MustCurryWith(prometheus.Labels{"service": serviceName})

	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		NotificationsTotal,
		ConnectedClients,
		ActiveTransfers,
		RelayBytesTotal,
	)
}
