package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"google.golang.org/grpc/codes"

	"github.com/victornm/chatquiz/internal/errors"
)

var (
	commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatquiz",
		Name:      "commands_total",
		Help:      "Chat commands handled, by command and outcome.",
	}, []string{"command", "outcome"})

	rounds = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatquiz",
		Name:      "rounds_closed_total",
		Help:      "Rounds whose winners were recorded.",
	})

	waits = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chatquiz",
		Name:      "wait_duration_seconds",
		Help:      "Time spent waiting for humans, by stage and outcome.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	}, []string{"stage", "outcome"})
)

// CountCommand records a handled command. err is the outcome of the command.
func CountCommand(name string, err error) {
	commands.WithLabelValues(name, outcome(err)).Inc()
}

func CountRound() {
	rounds.Inc()
}

// ObserveWait records how long a wait that started at start took.
func ObserveWait(stage string, start time.Time, err error) {
	waits.WithLabelValues(stage, outcome(err)).Observe(time.Since(start).Seconds())
}

// outcome is "ok" or the code of err, e.g. "PermissionDenied".
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return codes.Code(errors.Convert(err).Code).String()
}
