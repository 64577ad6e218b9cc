package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// MarketMetrics instruments the market-and-agreement subsystem: subscription
// lifecycle, matching, negotiation chains, and agreement state transitions.
type MarketMetrics struct {
	subscriptionsSaved    *prometheus.CounterVec
	subscriptionsRejected *prometheus.CounterVec
	subscriptionsActive   *prometheus.GaugeVec
	matchesEmitted        prometheus.Counter
	gossipReceived        *prometheus.CounterVec
	gossipForwarded       *prometheus.CounterVec
	gossipDropped         *prometheus.CounterVec
	proposalEvents        *prometheus.CounterVec
	agreementTransitions  *prometheus.CounterVec
	agreementExpired      prometheus.Counter
	queueDepth            *prometheus.GaugeVec
}

var (
	marketOnce     sync.Once
	marketRegistry *MarketMetrics
)

// Market returns the process-wide market metrics registry, lazily
// constructing and registering it on first use.
func Market() *MarketMetrics {
	marketOnce.Do(func() {
		marketRegistry = &MarketMetrics{
			subscriptionsSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_subscriptions_saved_total",
				Help: "Count of offers/demands successfully saved by kind.",
			}, []string{"kind"}),
			subscriptionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_subscriptions_rejected_total",
				Help: "Count of save attempts rejected by kind and reason.",
			}, []string{"kind", "reason"}),
			subscriptionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "market_subscriptions_active",
				Help: "Active (non-expired, non-unsubscribed) offers/demands by kind.",
			}, []string{"kind"}),
			matchesEmitted: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "market_matches_emitted_total",
				Help: "Count of offer/demand pairs the matcher emitted as raw proposals.",
			}),
			gossipReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_gossip_received_total",
				Help: "Count of gossip messages received by topic.",
			}, []string{"topic"}),
			gossipForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_gossip_forwarded_total",
				Help: "Count of ids re-broadcast after gossip absorption by topic.",
			}, []string{"topic"}),
			gossipDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_gossip_dropped_total",
				Help: "Count of gossiped ids that stopped propagating by reason.",
			}, []string{"reason"}),
			proposalEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_proposal_events_total",
				Help: "Count of negotiation events enqueued by type.",
			}, []string{"event_type"}),
			agreementTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_agreement_transitions_total",
				Help: "Count of agreement state transitions by target state.",
			}, []string{"state"}),
			agreementExpired: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "market_agreement_expired_total",
				Help: "Count of agreements that hit their validTo timer before approval.",
			}),
			queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "market_event_queue_depth",
				Help: "Pending event count per subscription's event queue.",
			}, []string{"subscription_id"}),
		}
		prometheus.MustRegister(
			marketRegistry.subscriptionsSaved,
			marketRegistry.subscriptionsRejected,
			marketRegistry.subscriptionsActive,
			marketRegistry.matchesEmitted,
			marketRegistry.gossipReceived,
			marketRegistry.gossipForwarded,
			marketRegistry.gossipDropped,
			marketRegistry.proposalEvents,
			marketRegistry.agreementTransitions,
			marketRegistry.agreementExpired,
			marketRegistry.queueDepth,
		)
	})
	return marketRegistry
}

func (m *MarketMetrics) ObserveSubscriptionSaved(kind string) {
	if m == nil {
		return
	}
	m.subscriptionsSaved.WithLabelValues(kind).Inc()
}

func (m *MarketMetrics) ObserveSubscriptionRejected(kind, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.subscriptionsRejected.WithLabelValues(kind, reason).Inc()
}

func (m *MarketMetrics) SetSubscriptionsActive(kind string, count float64) {
	if m == nil {
		return
	}
	m.subscriptionsActive.WithLabelValues(kind).Set(count)
}

func (m *MarketMetrics) ObserveMatchEmitted() {
	if m == nil {
		return
	}
	m.matchesEmitted.Inc()
}

func (m *MarketMetrics) ObserveGossipReceived(topic string) {
	if m == nil {
		return
	}
	m.gossipReceived.WithLabelValues(topic).Inc()
}

func (m *MarketMetrics) ObserveGossipForwarded(topic string) {
	if m == nil {
		return
	}
	m.gossipForwarded.WithLabelValues(topic).Inc()
}

func (m *MarketMetrics) ObserveGossipDropped(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.gossipDropped.WithLabelValues(reason).Inc()
}

func (m *MarketMetrics) ObserveProposalEvent(eventType string) {
	if m == nil {
		return
	}
	m.proposalEvents.WithLabelValues(eventType).Inc()
}

func (m *MarketMetrics) ObserveAgreementTransition(state string) {
	if m == nil {
		return
	}
	m.agreementTransitions.WithLabelValues(state).Inc()
}

func (m *MarketMetrics) ObserveAgreementExpired() {
	if m == nil {
		return
	}
	m.agreementExpired.Inc()
}

func (m *MarketMetrics) SetQueueDepth(subscriptionID string, depth float64) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(subscriptionID).Set(depth)
}
