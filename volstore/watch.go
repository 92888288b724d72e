package volstore

import (
	"context"
	"time"
)

// Watch polls the namespace version until ctx is cancelled and broadcasts
// the mapping whenever another process (or another Store handle on the same
// file) has written a version this handle has not broadcast yet.
func (s *Store) Watch(ctx context.Context) {
	log := s.logger
	ticker := time.NewTicker(s.cfg.pollInterval)
	defer ticker.Stop()

	log.Info("volstore: watch started", "interval", s.cfg.pollInterval)
	for {
		select {
		case <-ctx.Done():
			log.Info("volstore: watch stopped")
			return
		case <-ticker.C:
			if err := s.poll(ctx); err != nil && ctx.Err() == nil {
				log.Warn("volstore: poll failed", "error", err)
			}
		}
	}
}

func (s *Store) poll(ctx context.Context) error {
	ver, err := s.Version(ctx)
	if err != nil {
		return err
	}
	if ver <= s.notified.Load() {
		return nil
	}
	v, ver, err := s.read(ctx, s.db)
	if err != nil {
		return err
	}
	s.logger.Debug("volstore: external change", "version", ver)
	s.publish(v, ver)
	return nil
}
