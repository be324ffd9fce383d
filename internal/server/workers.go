package server

import (
	"context"
	"time"

	"github.com/ssd-technologies/screendawg/internal/storage"
)

const sweepInterval = time.Minute

// StartWorkers launches all background goroutines. Call with a cancellable
// context for graceful shutdown.
func (s *Server) StartWorkers(ctx context.Context) {
	go s.runPruner(ctx)
	go s.runSweeper(ctx)
}

// --- Dangling record pruner ---

// runPruner periodically purges records whose blob has disappeared.
func (s *Server) runPruner(ctx context.Context) {
	interval := s.cfg.Registry.PruneInterval.Duration
	if interval <= 0 {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			if n := s.pruneDangling(ctx); n > 0 {
				s.log.Info().Int("purged", n).Msg("pruned dangling uploads")
			}
		}
	}
}

// pruneDangling purges every record whose blob is missing. Returns the
// number of records removed.
func (s *Server) pruneDangling(ctx context.Context) int {
	var all []storage.Upload
	err := s.registry.ForEachOwner(func(_ string, uploads []storage.Upload) error {
		all = append(all, uploads...)
		return nil
	})
	if err != nil {
		s.log.Error().Err(err).Msg("list uploads for pruning")
		return 0
	}

	purged := 0
	for _, u := range all {
		if ctx.Err() != nil {
			break
		}
		ok, err := s.blobs.Exists(ctx, u.StoragePath)
		if err != nil {
			s.log.Warn().Err(err).Str("short_id", u.ShortID).Msg("check blob")
			continue
		}
		if ok {
			continue
		}
		if err := s.registry.Purge(u.ShortID); err != nil {
			s.log.Error().Err(err).Str("short_id", u.ShortID).Msg("purge dangling upload")
			continue
		}
		purged++
	}
	return purged
}

// --- Limiter and session sweeper ---

// runSweeper drops expired rate-limit windows and in-memory sessions.
func (s *Server) runSweeper(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(sweepInterval):
			s.sweep()
		}
	}
}

func (s *Server) sweep() {
	n := s.uploadLimiter.Cleanup() + s.loginLimiter.Cleanup()
	if mem, ok := s.sessions.(*MemorySessions); ok {
		n += mem.Sweep()
	}
	if n > 0 {
		s.log.Debug().Int("dropped", n).Msg("swept expired entries")
	}
}
