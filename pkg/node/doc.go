// Package node is the boundary between the exporter and bitcoind.
//
// It exposes a single uniform call, `Query`, that every metric group goes
// through: a per-call timeout is enforced, requests may be rate limited,
// and any failure comes back as a *CollectionError whose Kind tells the
// collector how to react.
//
package node
