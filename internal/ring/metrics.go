package ring

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// framesTotal counts received frames by node and outcome.
	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sx9_ring_frames_total",
		Help: "Frames received by ring nodes, by outcome",
	}, []string{"node", "outcome"})

	// originatedTotal counts messages a node originated, by type.
	originatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sx9_ring_originated_total",
		Help: "Messages originated by ring nodes, by type",
	}, []string{"node", "type"})

	// tokenEpoch tracks the highest token epoch each node has seen.
	tokenEpoch = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sx9_ring_token_epoch",
		Help: "Highest token epoch observed by each node",
	}, []string{"node"})

	// tokenClaimsTotal counts token regenerations after silence.
	tokenClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sx9_ring_token_claims_total",
		Help: "Token regenerations after token silence",
	}, []string{"node"})

	// outboxDepth tracks pending submissions per node.
	outboxDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sx9_ring_outbox_depth",
		Help: "Submissions waiting for the token",
	}, []string{"node"})
)

// Frame outcomes.
const (
	outcomeConsumed  = "consumed"
	outcomeForwarded = "forwarded"
	outcomeDuplicate = "duplicate"
	outcomeCorrupted = "corrupted"
	outcomeExpired   = "expired"
	outcomeMisrouted = "misrouted"
	outcomeStale     = "stale_token"
	outcomeDown      = "node_down"
)

// nodeMetrics binds the package collectors to one node's label.
type nodeMetrics struct {
	label string
}

func newNodeMetrics(index uint16) nodeMetrics {
	return nodeMetrics{label: strconv.Itoa(int(index))}
}

func (m nodeMetrics) frame(outcome string) {
	framesTotal.WithLabelValues(m.label, outcome).Inc()
}

func (m nodeMetrics) originated(t Type) {
	originatedTotal.WithLabelValues(m.label, t.String()).Inc()
}

func (m nodeMetrics) epoch(e uint32) {
	tokenEpoch.WithLabelValues(m.label).Set(float64(e))
}

func (m nodeMetrics) claim() {
	tokenClaimsTotal.WithLabelValues(m.label).Inc()
}

func (m nodeMetrics) outbox(depth int) {
	outboxDepth.WithLabelValues(m.label).Set(float64(depth))
}
