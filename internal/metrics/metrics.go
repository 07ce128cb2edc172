package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gauges
var (
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "classmesh_active_rooms",
		Help: "Number of rooms with at least one connected participant",
	})
	ActiveParticipants = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "classmesh_active_participants",
		Help: "Number of participants registered in rooms",
	})
	OpenConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "classmesh_open_connections",
		Help: "Number of open websocket connections",
	})
	PresenceBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "classmesh_presence_backlog",
		Help: "Presence events waiting to be applied to attendance",
	})
)

// Counters
var (
	JoinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classmesh_joins_total",
		Help: "Room joins by outcome",
	}, []string{"outcome"})
	SignalsRelayedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classmesh_signals_relayed_total",
		Help: "Offer/answer/candidate messages relayed to their target",
	}, []string{"type"})
	SignalsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classmesh_signals_dropped_total",
		Help: "Signals dropped because the target connection was gone",
	}, []string{"type"})
	ChatMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classmesh_chat_messages_total",
		Help: "Chat messages broadcast",
	})
	SlowConsumersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classmesh_slow_consumers_total",
		Help: "Connections closed because their send queue was full",
	})
	AttendanceWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classmesh_attendance_writes_total",
		Help: "Attendance record writes by source and outcome",
	}, []string{"source", "outcome"})
)

// Histograms
var (
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "classmesh_http_request_duration_ms",
		Help:    "REST request duration in milliseconds by route pattern",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	}, []string{"route"})
)
