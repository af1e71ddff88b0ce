// Package api implements the read-only REST surface under /api/v1.
//
// Endpoints:
//
//	GET /api/v1/health              overall state and entity counts
//	GET /api/v1/entities            every live entity (?entry=<id> filters)
//	GET /api/v1/entities/{id}       one entity by unique_id
//	GET /api/v1/entries             running config entries
//	GET /api/v1/registry            worker registry dump and flags
//	GET /api/v1/alerts              firing and recently resolved alerts
//	GET /api/v1/snapshot            entities and entries in one payload
//
// All responses are JSON. Non-GET methods get 405.
package api
