package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "keyward"

var (
	// CryptoOperations counts data-plane calls by operation and outcome.
	CryptoOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crypto",
			Name:      "operations_total",
			Help:      "Crypto operations by operation and status.",
		},
		[]string{"operation", "status"},
	)

	// RotationSteps counts rotation workflow step outcomes.
	RotationSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rotation",
			Name:      "steps_total",
			Help:      "Rotation workflow steps by step and status.",
		},
		[]string{"step", "status"},
	)

	// AuthRejections counts rejected requests without detailing the stage.
	AuthRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "rejections_total",
			Help:      "Authentication rejections.",
		},
	)
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
