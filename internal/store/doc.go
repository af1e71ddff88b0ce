// Package store holds the latest published entities in memory. It is a
// thread-safe map keyed by unique_id with TTL eviction, read by the REST
// API, the websocket stream and the metrics exporter.
package store
