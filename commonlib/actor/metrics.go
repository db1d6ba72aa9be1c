package actor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metrics
// =============================================================================

var (
	deadLettersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ruche_dead_letters_total",
		Help: "Undeliverable envelopes by reason.",
	}, []string{"reason"})

	// MailboxEnqueuedTotal counts envelopes accepted by local mailboxes.
	MailboxEnqueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ruche_mailbox_enqueued_total",
		Help: "Envelopes enqueued into local mailboxes.",
	})

	// MailboxDequeuedTotal counts envelopes handed to Receive.
	MailboxDequeuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ruche_mailbox_dequeued_total",
		Help: "Envelopes dequeued from local mailboxes.",
	})

	// ActorRestartsTotal counts supervision-driven restarts.
	ActorRestartsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ruche_actor_restarts_total",
		Help: "Actor restarts decided by supervision.",
	})

	// ActorFailuresTotal counts uncaught errors from Receive.
	ActorFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ruche_actor_failures_total",
		Help: "Uncaught errors raised by actor Receive.",
	})

	// ActorsGauge tracks the number of live local actors.
	ActorsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ruche_actors",
		Help: "Live actors in the local system.",
	})

	// ServiceTransitionsTotal counts health monitor availability flips.
	ServiceTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ruche_service_transitions_total",
		Help: "Hosting service availability transitions by direction.",
	}, []string{"direction"})
)
