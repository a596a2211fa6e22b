// Package types defines the shared data model of the retrieval
// orchestrator: engine roles, retrieval strategies, records and search
// parameters, and the typed error taxonomy surfaced to callers.
package types
