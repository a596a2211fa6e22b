// Package engine defines the client interface the orchestrator consumes
// from the three backing stores, plus an in-memory implementation used by
// tests and local development.
package engine

import (
	"context"

	"github.com/soundprediction/retrievo/pkg/types"
)

// Client is the driver contract for one backing store. Implementations are
// provided by the concrete store drivers; Upsert and Delete must be
// idempotent so the resilience layer can retry them safely.
type Client interface {
	// Role reports which of the three stores this client fronts.
	Role() types.EngineRole

	// Search runs a query against the store and returns scored hits.
	Search(ctx context.Context, params types.SearchParams) ([]types.ScoredRecord, error)

	// Upsert writes records into the store, replacing existing ids.
	Upsert(ctx context.Context, records []types.Record) (types.UpsertResult, error)

	// Delete removes records by id. Missing ids are not an error.
	Delete(ctx context.Context, ids []string) (types.DeleteResult, error)

	// Ping checks connectivity and reports observed latency.
	Ping(ctx context.Context) (types.PingResult, error)
}

// Set groups one client per role, the unit the orchestrator is built around.
type Set struct {
	Relational Client
	Keyword    Client
	Vector     Client
}

// ByRole returns the client for a role, nil if the set has none.
func (s *Set) ByRole(role types.EngineRole) Client {
	switch role {
	case types.EngineRelational:
		return s.Relational
	case types.EngineKeyword:
		return s.Keyword
	case types.EngineVector:
		return s.Vector
	default:
		return nil
	}
}

// All returns the non-nil clients in role order.
func (s *Set) All() []Client {
	clients := make([]Client, 0, 3)
	for _, c := range []Client{s.Relational, s.Keyword, s.Vector} {
		if c != nil {
			clients = append(clients, c)
		}
	}
	return clients
}
