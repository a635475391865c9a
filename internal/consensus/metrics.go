package consensus

import "github.com/prometheus/client_golang/prometheus"

var (
	// messagesTotal counts inbound messages by outcome:
	// buffered, filtered, or held_pending (draft awaiting verdict).
	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consensus_messages_total",
			Help: "Inbound group messages by ingest result.",
		},
		[]string{"result"},
	)

	// draftsTotal counts resolved drafts by outcome: approved, rejected, stale.
	draftsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consensus_drafts_total",
			Help: "Resolved drafts by outcome.",
		},
		[]string{"outcome"},
	)

	generationFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "consensus_generation_failures_total",
			Help: "Draft generation or publication failures recovered by re-buffering.",
		},
	)

	// votesTotal counts cast attempts by result: recorded, replay, rejected.
	votesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consensus_votes_total",
			Help: "Vote cast attempts by result.",
		},
		[]string{"result"},
	)

	faultsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "consensus_faults_total",
			Help: "Unexpected internal faults that reset a machine to idle.",
		},
	)

	// rewardSubmissions counts per-recipient ledger submissions: submitted, failed.
	rewardSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reward_submissions_total",
			Help: "Reward ledger submissions by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(messagesTotal, draftsTotal, generationFailures, votesTotal, faultsTotal, rewardSubmissions)
}
