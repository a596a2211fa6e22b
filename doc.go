// Package retrievo is the orchestration layer between a knowledge base
// query API and its three backing stores: a relational store, a full-text
// keyword index and a vector index.
//
// The package coordinates five concerns:
//
//   - Configuration: layered file/env/runtime config served as versioned
//     immutable snapshots with atomic hot reload.
//   - Strategy selection: per-query choice between hybrid, vector-only,
//     keyword-only and fallback retrieval, driven by live engine health.
//   - Synchronization: a queued worker pool propagating chunks and
//     embeddings between stores with configurable conflict resolution.
//   - Resilience: per-dependency circuit breakers, retries with jitter and
//     registered fallbacks around every engine call.
//   - Optimization: response caching, query rewriting, request
//     deduplication and a bounded concurrency gate on the query path.
//
// Client is the entry point; New wires the components from a configuration
// file and a set of engine clients:
//
//	engines := &engine.Set{Relational: rel, Keyword: kw, Vector: vec}
//	client, err := retrievo.New(retrievo.Options{
//		ConfigPath: "retrievo.yaml",
//		Engines:    engines,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	resp, err := client.Query(ctx, types.QueryRequest{QueryText: "...", TopK: 10})
package retrievo
