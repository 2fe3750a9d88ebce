package state

import (
	"github.com/jellydator/ttlcache/v3"
)

// DiscoveryQueue holds nodes that appeared in someone's link state but are missing from the node table, together with
// a node that is known to be able to tell us about them.
type DiscoveryQueue struct {
	queued    *ttlcache.Cache[NodeTableKey, NodeId]
	requested *ttlcache.Cache[NodeTableKey, struct{}]
}

func NewDiscoveryQueue() *DiscoveryQueue {
	return &DiscoveryQueue{
		queued: ttlcache.New[NodeTableKey, NodeId](
			ttlcache.WithTTL[NodeTableKey, NodeId](DiscoveryQueueTTL),
			ttlcache.WithDisableTouchOnHit[NodeTableKey, NodeId](),
		),
		requested: ttlcache.New[NodeTableKey, struct{}](
			ttlcache.WithTTL[NodeTableKey, struct{}](DiscoveryRequestDedupTTL),
			ttlcache.WithDisableTouchOnHit[NodeTableKey, struct{}](),
		),
	}
}

// Add queues a node for discovery. Nodes that were requested recently are skipped.
func (q *DiscoveryQueue) Add(key NodeTableKey, askedVia NodeId) bool {
	if q.requested.Has(key) || q.queued.Has(key) {
		return false
	}
	q.queued.Set(key, askedVia, ttlcache.DefaultTTL)
	return true
}

func (q *DiscoveryQueue) Len() int {
	return q.queued.Len()
}

func (q *DiscoveryQueue) Get(key NodeTableKey) (NodeId, bool) {
	item := q.queued.Get(key)
	if item == nil {
		return "", false
	}
	return item.Value(), true
}

// Drain removes every queued node and marks it as requested.
func (q *DiscoveryQueue) Drain() []Pair[NodeTableKey, NodeId] {
	q.queued.DeleteExpired()
	q.requested.DeleteExpired()
	out := make([]Pair[NodeTableKey, NodeId], 0, q.queued.Len())
	for key, item := range q.queued.Items() {
		out = append(out, Pair[NodeTableKey, NodeId]{key, item.Value()})
		q.requested.Set(key, struct{}{}, ttlcache.DefaultTTL)
	}
	q.queued.DeleteAll()
	SortPairs(out)
	return out
}
