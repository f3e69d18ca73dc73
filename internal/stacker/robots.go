package stacker

import (
	"net/url"

	"go.uber.org/zap"
)

// preloadRobots fetches robots.txt for u's host in the background. At most one preload
// runs per host and at most Config.RobotsPreloads overall; the rest are skipped since
// the loader fetches robots.txt on demand anyway.
func (s *Stacker) preloadRobots(u *url.URL) {
	if s.deps.Robots == nil {
		return
	}
	key := u.Scheme + "://" + u.Host
	if _, busy := s.preloading.LoadOrStore(key, struct{}{}); busy {
		return
	}
	select {
	case s.preloadSlots <- struct{}{}:
	default:
		s.preloading.Delete(key)
		s.logger.Debug("robots preload skipped", zap.String("host", u.Host))
		return
	}

	s.preloadMu.Lock()
	if s.preloadDone {
		s.preloadMu.Unlock()
		<-s.preloadSlots
		s.preloading.Delete(key)
		return
	}
	s.preloads.Add(1)
	s.preloadMu.Unlock()

	go func() {
		defer s.preloads.Done()
		defer func() {
			s.preloading.Delete(key)
			<-s.preloadSlots
		}()
		s.deps.Robots.Ensure(s.preloadCtx, u)
	}()
}

// stopPreloads cancels running preloads and waits for them to return.
func (s *Stacker) stopPreloads() {
	s.preloadMu.Lock()
	s.preloadDone = true
	s.preloadMu.Unlock()
	s.preloadCancel()
	s.preloads.Wait()
}
