package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Config carries the const labels stamped on every metric.
type Config struct {
	ServiceName string
	Environment string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	declarationsCreated  *prometheus.CounterVec
	declarationsReviewed *prometheus.CounterVec
	ledgerAdjustments    *prometheus.CounterVec
	slotTransitions      *prometheus.CounterVec
	reversalItems        *prometheus.CounterVec
	rateLimitDenied      prometheus.Counter
}

// New configures the domain metrics instruments on the given registerer.
func New(registerer prometheus.Registerer, cfg Config) (*Metrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "callbonus"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	declarationsCreated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "callbonus_declarations_created_total",
		Help:        "Bonus declarations submitted, by call type and category.",
		ConstLabels: constLabels,
	}, []string{"call_type", "category"})
	declarationsReviewed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "callbonus_declarations_reviewed_total",
		Help:        "Declaration review outcomes.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	ledgerAdjustments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "callbonus_ledger_adjustments_total",
		Help:        "Affiliate table row adjustments, by row and direction.",
		ConstLabels: constLabels,
	}, []string{"row_id", "direction"})
	slotTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "callbonus_slot_transitions_total",
		Help:        "Call slot state transitions.",
		ConstLabels: constLabels,
	}, []string{"transition"})
	reversalItems := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "callbonus_reversal_items_total",
		Help:        "Reversal engine per-declaration outcomes.",
		ConstLabels: constLabels,
	}, []string{"result"})
	rateLimitDenied := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "callbonus_rate_limit_denied_total",
		Help:        "Declaration submissions rejected by the rate limiter.",
		ConstLabels: constLabels,
	})

	collectors := []prometheus.Collector{
		declarationsCreated,
		declarationsReviewed,
		ledgerAdjustments,
		slotTransitions,
		reversalItems,
		rateLimitDenied,
	}
	for _, c := range collectors {
		if err := registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return nil, err
			}
		}
	}

	return &Metrics{
		declarationsCreated:  declarationsCreated,
		declarationsReviewed: declarationsReviewed,
		ledgerAdjustments:    ledgerAdjustments,
		slotTransitions:      slotTransitions,
		reversalItems:        reversalItems,
		rateLimitDenied:      rateLimitDenied,
	}, nil
}

// RecordDeclarationCreated increments submission counts.
func (m *Metrics) RecordDeclarationCreated(callType, category string) {
	if m == nil {
		return
	}
	m.declarationsCreated.WithLabelValues(callType, category).Inc()
}

// RecordDeclarationReviewed increments review outcome counts.
func (m *Metrics) RecordDeclarationReviewed(outcome string) {
	if m == nil {
		return
	}
	m.declarationsReviewed.WithLabelValues(outcome).Inc()
}

// RecordLedgerAdjustment increments row adjustment counts.
func (m *Metrics) RecordLedgerAdjustment(rowID, direction string) {
	if m == nil {
		return
	}
	m.ledgerAdjustments.WithLabelValues(rowID, direction).Inc()
}

// RecordSlotTransition increments slot transition counts.
func (m *Metrics) RecordSlotTransition(transition string) {
	if m == nil {
		return
	}
	m.slotTransitions.WithLabelValues(transition).Inc()
}

// RecordReversalItem increments per-declaration reversal results.
func (m *Metrics) RecordReversalItem(result string) {
	if m == nil {
		return
	}
	m.reversalItems.WithLabelValues(result).Inc()
}

// RecordRateLimitDenied increments rate limiter rejections.
func (m *Metrics) RecordRateLimitDenied() {
	if m == nil {
		return
	}
	m.rateLimitDenied.Inc()
}
