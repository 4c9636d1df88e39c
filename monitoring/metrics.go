package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

// WalletMetrics exposes the engine's operational gauges and counters. All
// fields are registered together through Register; the wallet mutates them
// directly, except PendingTransactions, which it never sets.
type WalletMetrics struct {
	HeadSequence          prometheus.Gauge
	Accounts              prometheus.Gauge
	PendingTransactions   prometheus.Gauge
	BlocksConnected       prometheus.Counter
	BlocksDisconnected    prometheus.Counter
	NotesDecrypted        prometheus.Counter
	TransactionsBroadcast prometheus.Counter
}

// NewWalletMetrics builds the engine metric set.
func NewWalletMetrics() *WalletMetrics {
	return &WalletMetrics{
		HeadSequence: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "umbra",
			Subsystem: "wallet",
			Name:      "head_sequence",
			Help:      "Chain sequence of the last block connected by the indexer.",
		}),
		Accounts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "umbra",
			Subsystem: "wallet",
			Name:      "accounts",
			Help:      "Number of accounts tracked by the wallet.",
		}),
		PendingTransactions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "umbra",
			Subsystem: "wallet",
			Name:      "pending_transactions",
			Help:      "Number of transactions awaiting confirmation.",
		}),
		BlocksConnected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "umbra",
			Subsystem: "wallet",
			Name:      "blocks_connected_total",
			Help:      "Blocks connected by the indexer since start.",
		}),
		BlocksDisconnected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "umbra",
			Subsystem: "wallet",
			Name:      "blocks_disconnected_total",
			Help:      "Blocks disconnected during reorgs since start.",
		}),
		NotesDecrypted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "umbra",
			Subsystem: "wallet",
			Name:      "notes_decrypted_total",
			Help:      "Notes successfully trial decrypted since start.",
		}),
		TransactionsBroadcast: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "umbra",
			Subsystem: "wallet",
			Name:      "transactions_broadcast_total",
			Help:      "Transactions handed to the peer network since start.",
		}),
	}
}

// Register attaches every metric to the given registry.
func (m *WalletMetrics) Register(registry prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.HeadSequence,
		m.Accounts,
		m.PendingTransactions,
		m.BlocksConnected,
		m.BlocksDisconnected,
		m.NotesDecrypted,
		m.TransactionsBroadcast,
	}
	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}
