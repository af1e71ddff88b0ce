// Package ws implements the websocket stream mounted at /ws/stream.
//
// Every interval the hub sends each client a snapshot frame, plus one
// immediately on connect:
//
//	{"event": "snapshot", "entry": "<id>", "data": { /* GET /api/v1/snapshot */ }}
//
// A client connecting with ?entry=<id> only sees that entry's entities.
// Clients may send commands:
//
//	{"action": "subscribe", "entry": "<id>"}   // "" clears the filter
//	{"action": "refresh"}
//
// Malformed or unknown commands are answered with an "error" event.
// All origins are accepted.
package ws
