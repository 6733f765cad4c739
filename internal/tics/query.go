package tics

import (
	"sort"

	"github.com/sirupsen/logrus"
)

// binarySearch returns i such that data[i].Time >= q and data[i-1].Time < q.
//
// Callers must only invoke this for the "inside" case: a[0].Time < q <=
// a[last].Time. "Before first" (q <= a[0].Time) and "after last"
// (q > a[last].Time) must be handled explicitly by the caller.
func binarySearch[T any](data []TimeData[T], q float64) int {
	a, b := 0, len(data)
	for {
		half := (a + b) >> 1
		if data[half].Time >= q {
			if data[half-1].Time < q {
				return half
			}
			b = half
		} else {
			a = half
		}
	}
}

// binarySearchChunks returns i such that chunks[i].max >= q and
// chunks[i-1].max < q. Same "inside only" contract as binarySearch.
func binarySearchChunks[T any](chunks []*chunk[T], q float64) int {
	a, b := 0, len(chunks)
	for {
		half := (a + b) >> 1
		if chunks[half].max >= q {
			if chunks[half-1].max < q {
				return half
			}
			b = half
		} else {
			a = half
		}
	}
}

// locateGE is a total (no "caller handles the edges" caveat) first-index
// binary search, used by queryPrevious where every boundary case is
// reachable and must return a correct answer rather than relying on a
// precondition the caller can't always establish up front.
func locateGE[T any](data []TimeData[T], t float64) int {
	return sort.Search(len(data), func(i int) bool { return data[i].Time >= t })
}

func locateFirstChunk[T any](chunks []*chunk[T], q float64) int {
	switch {
	case len(chunks) == 0 || q <= chunks[0].max:
		return 0
	case q > chunks[len(chunks)-1].max:
		return len(chunks)
	default:
		return binarySearchChunks(chunks, q)
	}
}

// reloadChunks brings every still-unloaded chunk among idxs back into
// memory. It re-checks chunk.loaded after acquiring the exclusive lock:
// another goroutine may have reloaded (or the writer may have evicted) the
// very same chunk in the gap between a reader's shared-lock check and this
// upgrade.
func (s *Store[T]) reloadChunks(idxs []int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reloaded := 0
	for _, i := range idxs {
		c := s.st.oldChunks[i]
		if c.loaded {
			continue
		}

		data, err := loadChunkFile(s.chunkPath(i), s.codec)
		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"store": s.name,
				"chunk": i,
			}).Error("tics: failed to reload chunk")
			continue
		}

		c.data = data
		c.loaded = true

		s.loadedMu.Lock()
		s.loadedChunks.Set(i, struct{}{})
		s.loadedMu.Unlock()
		reloaded++
	}

	if reloaded > 0 {
		s.logger.WithField("store", s.name).WithField("count", reloaded).Debug("tics: reloaded chunks from disk")
	}
}

// withChunk returns cid's data, reloading it from disk first if necessary.
// cid == len(oldChunks) refers to the current (unsealed) chunk. Returns nil
// if cid names a sealed chunk whose reload failed.
func (s *Store[T]) withChunk(cid int) []TimeData[T] {
	now := s.elapsedSeconds()

	s.mu.RLock()
	if cid >= len(s.st.oldChunks) {
		data := s.st.currentChunk
		s.mu.RUnlock()
		return data
	}

	c := s.st.oldChunks[cid]
	if c.loaded {
		c.lastAccess.Store(now)
		data := c.data
		s.mu.RUnlock()
		return data
	}
	s.mu.RUnlock()

	s.reloadChunks([]int{cid})

	s.mu.RLock()
	defer s.mu.RUnlock()
	c = s.st.oldChunks[cid]
	if !c.loaded {
		return nil
	}
	c.lastAccess.Store(now)
	return c.data
}

// Query streams every entry whose extent intersects [min, max] to cb, in
// time order. A negative min is interpreted as relative to the latest
// observed time; a nil max defaults to the latest observed time.
func (s *Store[T]) Query(min float64, max *float64, cb func(entryID uint64, td *TimeData[T])) {
	now := s.elapsedSeconds()

	s.mu.RLock()
	effMin := min
	if effMin < 0 {
		effMin += s.st.max
	}
	effMax := s.st.max
	if max != nil {
		effMax = *max
	}

	oldChunks := s.st.oldChunks
	var lookupList []int
	needsReload := false

	for i := locateFirstChunk(oldChunks, effMin); i < len(oldChunks); i++ {
		c := oldChunks[i]
		if c.min > effMax {
			break
		}
		if !c.loaded {
			needsReload = true
		}
		lookupList = append(lookupList, i)
		c.lastAccess.Store(now)
	}
	s.mu.RUnlock()

	if needsReload {
		s.reloadChunks(lookupList)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, i := range lookupList {
		c := s.st.oldChunks[i]
		if !c.loaded {
			s.logger.WithField("store", s.name).WithField("chunk", i).
				Warn("tics: query incomplete, chunk could not be reloaded")
			continue
		}

		kBase := uint64(i) << 32
		start := 0
		if c.min < effMin {
			start = binarySearch(c.data, effMin)
		}

		if c.max < effMax {
			for j := start; j < len(c.data); j++ {
				cb(kBase|uint64(j), &c.data[j])
			}
			continue
		}

		stopped := false
		for j := start; j < len(c.data); j++ {
			entry := &c.data[j]
			if entry.Data.ShouldStopQuery(entry.Time, effMax) {
				stopped = true
				break
			}
			cb(kBase|uint64(j), entry)
		}
		if stopped {
			return
		}
	}

	cur := s.st.currentChunk
	if len(cur) == 0 || effMin > cur[len(cur)-1].Time {
		return
	}

	kBase := uint64(len(s.st.oldChunks)) << 32
	start := 0
	if cur[0].Time < effMin {
		start = binarySearch(cur, effMin)
	}
	for i := start; i < len(cur); i++ {
		entry := &cur[i]
		if entry.Data.ShouldStopQuery(entry.Time, effMax) {
			break
		}
		cb(kBase|uint64(i), entry)
	}
}

func (s *Store[T]) queryLeft(cid int, t float64, budget int, dst *[]TimeData[T]) int {
	if budget <= 0 {
		return 0
	}
	chunk := s.withChunk(cid)
	if len(chunk) == 0 || t <= chunk[0].Time {
		return 0
	}

	n := len(chunk)
	end := n
	if t < chunk[n-1].Time {
		end = binarySearch(chunk, t)
	}

	cnt := end
	if cnt > budget {
		cnt = budget
	}
	start := end - cnt

	for i := end - 1; i >= start; i-- {
		*dst = append(*dst, chunk[i])
	}
	return cnt
}

func (s *Store[T]) queryRight(cid int, t float64, budget int, dst *[]TimeData[T]) int {
	if budget <= 0 {
		return 0
	}
	chunk := s.withChunk(cid)
	n := len(chunk)
	if n == 0 || t >= chunk[n-1].Time {
		return 0
	}

	start := 0
	if t > chunk[0].Time {
		start = binarySearch(chunk, t)
	}

	cnt := n - start
	if cnt > budget {
		cnt = budget
	}
	end := start + cnt

	*dst = append(*dst, chunk[start:end]...)
	return cnt
}

// QueryCount returns up to count entries bracketing t, time-ordered, split
// as evenly as possible on either side. If the right side runs out of
// entries before spending its share of the budget (and the left walk did not
// already reach the first entry), the left walk is redone from scratch with
// the enlarged budget, since its first pass consumed its chunk cursor
// walking backwards and can't be resumed.
func (s *Store[T]) QueryCount(t float64, count int, cb func(*TimeData[T])) {
	s.mu.RLock()
	oldChunks := s.st.oldChunks
	firstChunk := locateFirstChunk(oldChunks, t)
	chunkCount := len(oldChunks)
	s.mu.RUnlock()

	remainingLeft := count / 2
	remainingRight := count - remainingLeft
	var left, right []TimeData[T]
	cid := firstChunk
	leftLimitHit := false

	if remainingLeft > 0 {
		for {
			remainingLeft -= s.queryLeft(cid, t, remainingLeft, &left)
			if remainingLeft <= 0 {
				break
			}
			if cid <= 0 {
				leftLimitHit = true
				break
			}
			cid--
		}
	}

	remainingRight += remainingLeft
	cid = firstChunk
	for remainingRight > 0 && cid <= chunkCount {
		remainingRight -= s.queryRight(cid, t, remainingRight, &right)
		cid++
	}

	if remainingRight > 0 && !leftLimitHit {
		left = left[:0]
		remainingLeft = count - len(right)
		cid = firstChunk

		for {
			remainingLeft -= s.queryLeft(cid, t, remainingLeft, &left)
			if remainingLeft <= 0 {
				break
			}
			if cid <= 0 {
				break
			}
			cid--
		}
	}

	for i := len(left) - 1; i >= 0; i-- {
		cb(&left[i])
	}
	for i := range right {
		cb(&right[i])
	}
}

// QueryPrevious invokes cb with the single entry whose time is the greatest
// strictly less than t, if one exists.
func (s *Store[T]) QueryPrevious(t float64, cb func(*TimeData[T])) {
	s.mu.RLock()
	firstChunk := locateFirstChunk(s.st.oldChunks, t)
	s.mu.RUnlock()

	chunk := s.withChunk(firstChunk)
	if len(chunk) == 0 {
		return
	}

	i := locateGE(chunk, t)
	if i > 0 {
		cb(&chunk[i-1])
		return
	}

	if firstChunk == 0 {
		return
	}

	prev := s.withChunk(firstChunk - 1)
	if len(prev) > 0 {
		cb(&prev[len(prev)-1])
	}
}

// GetMaxTime returns the latest time observed by Push so far.
func (s *Store[T]) GetMaxTime() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.max
}

// GetStats returns (loadedChunks+1, totalChunks+1); the +1 in both numbers
// accounts for the always-resident current chunk (see the open question in
// the design notes: kept as-is rather than changed to a 3-tuple, to match
// the shape the HTTP layer already expects).
func (s *Store[T]) GetStats() (loaded, total int) {
	s.loadedMu.Lock()
	loaded = s.loadedChunks.Len() + 1
	s.loadedMu.Unlock()

	s.mu.RLock()
	total = len(s.st.oldChunks) + 1
	s.mu.RUnlock()
	return loaded, total
}
