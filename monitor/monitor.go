// monitor/monitor.go
package monitor

import (
	"expvar"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	OnlinePlayers    prometheus.Gauge
	ActiveLobbies    prometheus.Gauge
	MessagesReceived prometheus.Counter
	MessageLatency   prometheus.Histogram

	LobbiesCreated  prometheus.Counter
	PlayersJoined   prometheus.Counter
	GamesStarted    prometheus.Counter
	MeetingsCalled  *prometheus.CounterVec // reason
	VotesCast       prometheus.Counter
	MeetingOutcomes *prometheus.CounterVec // method
	Wins            *prometheus.CounterVec // winner, reason
	StoreLatency    *prometheus.HistogramVec
}

func NewMetrics(namespace string, registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		OnlinePlayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_players",
			Help:      "Number of connected websocket sessions",
		}),
		ActiveLobbies: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_lobbies",
			Help:      "Number of lobbies with at least one connected session",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of messages received",
		}),
		MessageLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_latency_seconds",
			Help:      "Message processing latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
		LobbiesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lobbies_created_total",
			Help:      "Total number of lobbies created",
		}),
		PlayersJoined: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "players_joined_total",
			Help:      "Total number of players that joined a lobby",
		}),
		GamesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "games_started_total",
			Help:      "Total number of games started",
		}),
		MeetingsCalled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "meetings_called_total",
			Help:      "Meetings called, by reason",
		}, []string{"reason"}),
		VotesCast: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_cast_total",
			Help:      "Total number of votes cast",
		}),
		MeetingOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "meeting_outcomes_total",
			Help:      "Resolved meetings, by method",
		}, []string{"method"}),
		Wins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wins_total",
			Help:      "Finished games, by winner and reason",
		}, []string{"winner", "reason"}),
		StoreLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_seconds",
			Help:      "Shared store operation latency",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"op"}),
	}

	registry.MustRegister(
		m.OnlinePlayers,
		m.ActiveLobbies,
		m.MessagesReceived,
		m.MessageLatency,
		m.LobbiesCreated,
		m.PlayersJoined,
		m.GamesStarted,
		m.MeetingsCalled,
		m.VotesCast,
		m.MeetingOutcomes,
		m.Wins,
		m.StoreLatency,
	)

	return m
}

// Monitor 所有方法对 nil 接收者安全，未配置监控时可直接传 nil
type Monitor struct {
	metrics      *Metrics
	registry     *prometheus.Registry
	startTime    time.Time
	requestCount int64
	mutex        sync.Mutex
}

func NewMonitor(namespace string) *Monitor {
	registry := prometheus.NewRegistry()
	return &Monitor{
		metrics:   NewMetrics(namespace, registry),
		registry:  registry,
		startTime: time.Now(),
	}
}

// Registry exposes the collectors, mainly for tests.
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves /metrics and /debug/vars.
func (m *Monitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.Handle("/debug/vars", expvar.Handler())
	return mux
}

// PublishExpvars 添加expvar指标，进程内只能调用一次
func (m *Monitor) PublishExpvars() {
	expvar.Publish("uptime", expvar.Func(func() interface{} {
		return time.Since(m.startTime).Seconds()
	}))

	expvar.Publish("requests", expvar.Func(func() interface{} {
		m.mutex.Lock()
		defer m.mutex.Unlock()
		return m.requestCount
	}))
}

func (m *Monitor) IncOnlinePlayers() {
	if m == nil {
		return
	}
	m.metrics.OnlinePlayers.Inc()
}

func (m *Monitor) DecOnlinePlayers() {
	if m == nil {
		return
	}
	m.metrics.OnlinePlayers.Dec()
}

func (m *Monitor) SetActiveLobbies(count int) {
	if m == nil {
		return
	}
	m.metrics.ActiveLobbies.Set(float64(count))
}

func (m *Monitor) IncMessagesReceived() {
	if m == nil {
		return
	}
	m.metrics.MessagesReceived.Inc()
	m.mutex.Lock()
	m.requestCount++
	m.mutex.Unlock()
}

func (m *Monitor) ObserveMessageLatency(duration time.Duration) {
	if m == nil {
		return
	}
	m.metrics.MessageLatency.Observe(duration.Seconds())
}

func (m *Monitor) IncLobbiesCreated() {
	if m == nil {
		return
	}
	m.metrics.LobbiesCreated.Inc()
}

func (m *Monitor) IncPlayersJoined() {
	if m == nil {
		return
	}
	m.metrics.PlayersJoined.Inc()
}

func (m *Monitor) IncGamesStarted() {
	if m == nil {
		return
	}
	m.metrics.GamesStarted.Inc()
}

func (m *Monitor) IncMeetings(reason string) {
	if m == nil {
		return
	}
	m.metrics.MeetingsCalled.WithLabelValues(reason).Inc()
}

func (m *Monitor) IncVotes() {
	if m == nil {
		return
	}
	m.metrics.VotesCast.Inc()
}

func (m *Monitor) IncMeetingOutcome(method string) {
	if m == nil {
		return
	}
	m.metrics.MeetingOutcomes.WithLabelValues(method).Inc()
}

func (m *Monitor) IncWins(winner, reason string) {
	if m == nil {
		return
	}
	m.metrics.Wins.WithLabelValues(winner, reason).Inc()
}

func (m *Monitor) ObserveStoreLatency(op string, duration time.Duration) {
	if m == nil {
		return
	}
	m.metrics.StoreLatency.WithLabelValues(op).Observe(duration.Seconds())
}
