package pool

import "github.com/hupe1980/sparsecount/sparse"

// The janitor keeps the pool in its desired state: at most maxPoolSize
// counters, at least minEmpty of them empty. Each invocation is bounded to
// one cleaning action so a shared supervisor is never starved by a single
// busy pool.

// janitor is submitted to the supervisor after every release.
func (p *Pool) janitor() {
	dirty := p.reduceAndTake()
	if dirty == nil {
		return
	}
	if dirty.ContentKey() == "" {
		// Already clean; just put it back.
		p.reinsertCleared(dirty)
		return
	}
	p.activeClears.Add(1)
	dirty.Clear()
	p.activeClears.Add(-1)
	p.stats.backgroundClears.Add(1)
	p.logger.Debug("background clear finished", "field", p.field)
	p.reinsertCleared(dirty)
}

// reduceAndTake trims the pool if oversized and returns a counter in need
// of cleaning, removed from the pool so no Acquire can observe it
// mid-clear. Takes the lock but never does heavy work under it.
func (p *Pool) reduceAndTake() *sparse.Counter {
	p.mu.Lock()
	defer p.mu.Unlock()
	clearing := int(p.activeClears.Load())

	for len(p.counters) > 0 {
		empty := 0
		for _, c := range p.counters {
			if c.ContentKey() == "" {
				empty++
			}
		}

		// Candidate to clean: any dirty counter beats a filled one, which
		// beats an empty one.
		idx, rank := 0, -1
		for i, c := range p.counters {
			var r int
			switch content := c.ContentKey(); {
			case content == dirtyToken:
				r = 2
			case content != "":
				r = 1
			default:
				r = 0
			}
			if r > rank {
				idx, rank = i, r
				if r == 2 {
					break
				}
			}
		}
		candidate := p.counters[idx]

		// Pool over capacity: evict. Prefer dropping an empty counter when
		// the empty target is already met, so cached filled counters keep
		// their slots.
		if clearing+len(p.counters) > p.maxPoolSize {
			if empty >= p.minEmpty {
				for i := len(p.counters) - 1; i >= 0; i-- {
					if p.counters[i].ContentKey() == "" {
						idx, candidate = i, p.counters[i]
						break
					}
				}
			}
			p.removeAt(idx)
			if candidate.ContentKey() == "" {
				p.stats.emptyFrees.Add(1)
			} else {
				p.stats.filledFrees.Add(1)
			}
			continue
		}

		if candidate.ContentKey() == dirtyToken {
			p.removeAt(idx)
			return candidate
		}
		if candidate.ContentKey() == "" || // nothing needs cleaning
			clearing+len(p.counters) < p.maxPoolSize || // room to spare
			empty >= p.minEmpty { // enough empties already
			return nil
		}
		// Pool full of filled counters and short on empties: sacrifice one.
		p.removeAt(idx)
		return candidate
	}
	return nil
}

func (p *Pool) removeAt(i int) {
	p.counters = append(p.counters[:i], p.counters[i+1:]...)
}

// reinsertCleared puts a cleaned counter back, unless the structure changed
// while it was being cleared or the pool refilled in the meantime.
func (p *Pool) reinsertCleared(counter *sparse.Counter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if counter.StructureKey() != p.structureKey || len(p.counters) >= p.maxPoolSize {
		p.stats.emptyFrees.Add(1)
		return
	}
	p.counters = append(p.counters, counter)
}
