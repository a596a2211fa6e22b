package syncer

import (
	"context"
	"errors"

	"github.com/soundprediction/retrievo/pkg/engine"
	"github.com/soundprediction/retrievo/pkg/search"
	"github.com/soundprediction/retrievo/pkg/types"
)

// worker consumes jobs until the pool context is cancelled. Workers block
// on an empty queue.
func (s *Service) worker(ctx context.Context, id int) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			s.run(ctx, j)
		}
	}
}

// run processes one job. Batches execute in submission order; items within
// a batch have no ordering guarantee. Individual item failures tally on the
// job without failing it; the job only fails when a whole batch cannot
// proceed (target breaker open with no way forward) or it is cancelled.
func (s *Service) run(ctx context.Context, j *job) {
	j.start()
	s.activeJobs.Store(j.rec.ID, struct{}{})
	defer s.activeJobs.Delete(j.rec.ID)
	s.persist(j)

	err := s.processTargets(ctx, j)

	switch {
	case err != nil:
		j.finish(StatusFailed, err.Error())
		s.logger.Warn("sync job failed", "job", j.rec.ID, "error", err)
	default:
		j.finish(StatusCompleted, "")
	}
	s.persist(j)
}

func (s *Service) processTargets(ctx context.Context, j *job) error {
	for _, role := range j.config.TargetEngines {
		if err := s.processTarget(ctx, j, role); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) processTarget(ctx context.Context, j *job, role types.EngineRole) error {
	client := s.engines.ByRole(role)

	if j.config.Operation == OpDelete {
		return s.deleteBatches(ctx, j, role, client)
	}

	items := j.config.Items
	batchSize := j.config.BatchSize

	for offset := 0; offset < len(items); offset += batchSize {
		// Cancellation is cooperative, checked between batches only.
		if err := ctx.Err(); err != nil {
			return err
		}
		if j.cancelled() {
			return errors.New("job cancelled")
		}

		end := offset + batchSize
		if end > len(items) {
			end = len(items)
		}
		if err := s.processBatch(ctx, j, role, client, items[offset:end]); err != nil {
			return err
		}
	}
	return nil
}

// processBatch resolves conflicts and writes each item through the
// resilience layer. Returns an error only when the batch as a whole cannot
// proceed.
func (s *Service) processBatch(ctx context.Context, j *job, role types.EngineRole, client engine.Client, batch []types.Record) error {
	reader, _ := client.(TargetReader)
	preferSource := s.mergePreference(j.config.DataType)

	for _, item := range batch {
		var target *types.Record
		if reader != nil {
			if cur, ok := reader.Get(item.ID); ok {
				target = &cur
			}
		}

		resolved, act := resolve(j.config.Conflict, item, target, preferSource)
		switch act {
		case actionSkip:
			j.addSuccess(1)
			continue
		case actionPark:
			j.park(item.ID)
			s.logger.Info("sync item parked for manual resolution",
				"job", j.rec.ID, "item", item.ID, "target", string(role))
			continue
		}

		if err := s.writeItem(ctx, role, resolved); err != nil {
			var coe *types.CircuitOpenError
			if errors.As(err, &coe) {
				// Target unavailable for the foreseeable future: the rest
				// of the batch cannot proceed either.
				return err
			}
			j.addFailed(1)
			s.logger.Warn("sync item failed", "job", j.rec.ID, "item", item.ID,
				"target", string(role), "error", err)
			continue
		}
		j.addSuccess(1)
	}
	s.persist(j)
	return nil
}

func (s *Service) writeItem(ctx context.Context, role types.EngineRole, item types.Record) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	client := s.engines.ByRole(role)
	// Sync writes retry on their own budget, not the query path's.
	_, err := s.exec.ExecuteWithAttempts(ctx, search.BreakerName(role), s.cfg().Sync.MaxRetries, func(callCtx context.Context) (interface{}, error) {
		res, err := client.Upsert(callCtx, []types.Record{item})
		if err != nil {
			return nil, &types.EngineCallError{Engine: string(role), Op: "upsert", Err: err}
		}
		return res, nil
	})
	return err
}

func (s *Service) deleteBatches(ctx context.Context, j *job, role types.EngineRole, client engine.Client) error {
	ids := j.config.DeleteIDs
	batchSize := j.config.BatchSize

	for offset := 0; offset < len(ids); offset += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		if j.cancelled() {
			return errors.New("job cancelled")
		}

		end := offset + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[offset:end]

		if s.limiter != nil {
			if err := s.limiter.WaitN(ctx, len(batch)); err != nil {
				return err
			}
		}

		_, err := s.exec.ExecuteWithAttempts(ctx, search.BreakerName(role), s.cfg().Sync.MaxRetries, func(callCtx context.Context) (interface{}, error) {
			res, err := client.Delete(callCtx, batch)
			if err != nil {
				return nil, &types.EngineCallError{Engine: string(role), Op: "delete", Err: err}
			}
			return res, nil
		})
		if err != nil {
			var coe *types.CircuitOpenError
			if errors.As(err, &coe) {
				return err
			}
			j.addFailed(len(batch))
			continue
		}
		j.addSuccess(len(batch))
		s.persist(j)
	}
	return nil
}

// mergePreference resolves MERGE field precedence for a data type. Types
// not configured default to preferring the source.
func (s *Service) mergePreference(dataType string) bool {
	prefs := s.cfg().Sync.MergePreferSource
	if prefs == nil {
		return true
	}
	pref, ok := prefs[dataType]
	if !ok {
		return true
	}
	return pref
}
