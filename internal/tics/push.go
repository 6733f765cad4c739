package tics

import "github.com/sirupsen/logrus"

// Push appends one (time, data) entry. time must be non-decreasing across
// calls; a backwards entry is dropped and logged rather than breaking the
// store's binary-search precondition over chunk and entry times.
//
// Writer-only: must never be called concurrently with another Push or with
// UnloadOldChunks.
func (s *Store[T]) Push(t float64, data T) {
	s.mu.Lock()

	if t < s.st.max {
		s.mu.Unlock()
		s.logger.WithFields(logrus.Fields{
			"store": s.name,
			"time":  t,
			"max":   s.st.max,
		}).Warn("tics: dropping entry older than the last inserted time")
		return
	}

	s.st.max = t
	s.st.currentChunk = append(s.st.currentChunk, TimeData[T]{Time: t, Data: data})

	sealedIndex := -1
	if len(s.st.currentChunk) >= SwapThreshold {
		sealed := s.st.currentChunk
		s.st.currentChunk = nil

		c := &chunk[T]{
			min:    sealed[0].Time,
			max:    sealed[len(sealed)-1].Time,
			data:   sealed,
			loaded: true,
		}
		c.lastAccess.Store(s.elapsedSeconds())

		s.st.oldChunks = append(s.st.oldChunks, c)
		sealedIndex = len(s.st.oldChunks) - 1
	}

	s.mu.Unlock()

	if sealedIndex >= 0 {
		s.loadedMu.Lock()
		s.loadedChunks.Set(sealedIndex, struct{}{})
		s.loadedMu.Unlock()
	}
}

// UnloadOldChunks spills any sealed, loaded chunk that has sat idle for at
// least UnloadThreshold to disk and releases its in-memory data.
//
// Writer-only: must never run concurrently with Push or another call to
// UnloadOldChunks.
func (s *Store[T]) UnloadOldChunks() {
	now := s.elapsedSeconds()

	s.mu.RLock()
	s.loadedMu.Lock()
	for pair := s.loadedChunks.Oldest(); pair != nil; pair = pair.Next() {
		idx := pair.Key
		c := s.st.oldChunks[idx]

		if now-c.lastAccess.Load() >= int64(UnloadThreshold.Seconds()) {
			s.unloadScratch = append(s.unloadScratch, idx)
		}
	}
	for _, idx := range s.unloadScratch {
		s.loadedChunks.Delete(idx)
	}
	s.loadedMu.Unlock()
	s.mu.RUnlock()

	if len(s.unloadScratch) == 0 {
		return
	}

	s.mu.Lock()
	for _, idx := range s.unloadScratch {
		c := s.st.oldChunks[idx]
		if err := s.spillChunk(idx, c); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"store": s.name,
				"chunk": idx,
			}).Error("tics: failed to spill chunk, keeping it loaded")

			s.loadedMu.Lock()
			s.loadedChunks.Set(idx, struct{}{})
			s.loadedMu.Unlock()
		}
	}
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"store": s.name,
		"count": len(s.unloadScratch),
	}).Debug("tics: spilled chunks to disk")

	s.unloadScratch = s.unloadScratch[:0]
}
