package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Submissions counts claim submissions by channel and outcome. Outcome is
// either "recorded" or one of the rejection reasons.
var Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "attendance",
	Name:      "submissions_total",
	Help:      "Attendance claim submissions by channel and outcome.",
}, []string{"channel", "outcome"})

// Decodes counts QR image decode attempts by outcome.
var Decodes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "attendance",
	Name:      "qr_decodes_total",
	Help:      "QR image decode attempts by outcome.",
}, []string{"outcome"})
