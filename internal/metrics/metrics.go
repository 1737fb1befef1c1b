// Package metrics declares the Prometheus instruments shared by the pipeline
// components. Errors never propagate across component boundaries; they end up
// here and in the logs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "crossarb"

// ScannerDrops counts symbols dropped during a scan tick, labeled by reason
// (stale_book, missing_quote, missing_side, rate_limited, no_universe).
var ScannerDrops = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scanner",
		Name:      "drops_total",
		Help:      "Symbols dropped during scanning, by reason.",
	},
	[]string{"reason"},
)

// ScannerEmitted counts opportunities appended to the bus.
var ScannerEmitted = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scanner",
		Name:      "opportunities_total",
		Help:      "Opportunities emitted by the scanner.",
	},
)

// RiskApproved counts opportunities re-published with approved=true.
var RiskApproved = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "risk",
		Name:      "approved_total",
		Help:      "Opportunities approved by the risk engine.",
	},
)

// RiskRejected counts policy rejections by reason tag.
var RiskRejected = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "risk",
		Name:      "rejected_total",
		Help:      "Opportunities rejected by the risk engine, by reason.",
	},
	[]string{"reason"},
)

// ExecutorOrders counts orders emitted on orders.new.
var ExecutorOrders = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "executor",
		Name:      "orders_total",
		Help:      "Orders emitted by the executor.",
	},
)

// ExecutorAborts counts inflight entries abandoned, by reason
// (zero_fill, toggle_flush, ttl_evicted).
var ExecutorAborts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "executor",
		Name:      "aborts_total",
		Help:      "Inflight opportunities abandoned before trade emission, by reason.",
	},
	[]string{"reason"},
)

// OrphanFills counts fills that found no inflight entry (race after a toggle
// flush or TTL eviction).
var OrphanFills = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "executor",
		Name:      "orphan_fills_total",
		Help:      "Fills acknowledged and dropped because no inflight entry matched.",
	},
)

// TradesEmitted counts trades appended to arb.trades, by source.
var TradesEmitted = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "trades_total",
		Help:      "Trades emitted, by source (executor, assembler).",
	},
	[]string{"source"},
)

// SimFills counts fills emitted by the order simulator.
var SimFills = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sim",
		Name:      "fills_total",
		Help:      "Fills emitted by the order simulator.",
	},
)

// ParseErrors counts bus entries that failed to parse, by component. The
// entries are acknowledged and dropped so the group never blocks.
var ParseErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "parse_errors_total",
		Help:      "Bus entries dropped after a parse failure, by component.",
	},
	[]string{"component"},
)

// BusWriteErrors counts dropped emissions after a bus write failure, by
// component.
var BusWriteErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bus_write_errors_total",
		Help:      "Emissions dropped after a bus write failure, by component.",
	},
	[]string{"component"},
)
