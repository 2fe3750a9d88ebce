package perf

import (
	"expvar"
	"net/http"

	"github.com/encodeous/metric"
)

var (
	DispatchLatency       = metric.NewHistogram("1m1s")
	RouteComputeLatency   = metric.NewHistogram("1m1s")
	LinkStateRetransmits  = metric.NewCounter("10s1s")
	LinkStateUpdates      = metric.NewCounter("10s1s")
	PeerMessagesPerSecond = metric.NewCounter("10s1s")
	PacketsForwarded      = metric.NewCounter("10s1s")
	PacketsRejected       = metric.NewCounter("10s1s")
	PendingTransfers      = metric.NewGauge("1m1s")
	Settlements           = metric.NewCounter("1m1s")
)

func init() {
	http.Handle("/debug/metrics", metric.Handler(metric.Exposed))
	expvar.Publish("weft:DispatchLatency (µs)", DispatchLatency)
	expvar.Publish("weft:RouteComputeLatency (µs)", RouteComputeLatency)
	expvar.Publish("weft:LinkStateRetransmits/s", LinkStateRetransmits)
	expvar.Publish("weft:LinkStateUpdates/s", LinkStateUpdates)
	expvar.Publish("weft:PeerMessages/s", PeerMessagesPerSecond)
	expvar.Publish("weft:PacketsForwarded/s", PacketsForwarded)
	expvar.Publish("weft:PacketsRejected/s", PacketsRejected)
	expvar.Publish("weft:PendingTransfers", PendingTransfers)
	expvar.Publish("weft:Settlements", Settlements)
}
