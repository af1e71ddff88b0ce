// Package types defines shared Go types used by the poller, the entity store
// and every publishing surface (REST API, websocket stream, metrics, alerts,
// Home Assistant bridge). These are the canonical in-memory representations of
// sensor entities, separate from any transport encoding.
package types
