package bufferpool

// clock implements CLOCK (second-chance) replacement over frame indices
// [0..capacity). Only frames with pin == 0 are evictable.
type clock struct {
	ref       []bool
	evictable []bool
	present   []bool
	hand      int
	size      int // number of evictable frames
}

func newClock(capacity int) *clock {
	if capacity <= 0 {
		capacity = 1
	}
	return &clock{
		ref:       make([]bool, capacity),
		evictable: make([]bool, capacity),
		present:   make([]bool, capacity),
	}
}

func (c *clock) inRange(id int) bool { return id >= 0 && id < len(c.ref) }

func (c *clock) touch(id int) {
	if !c.inRange(id) {
		return
	}
	c.present[id] = true
	c.ref[id] = true
}

func (c *clock) setEvictable(id int, evictable bool) {
	if !c.inRange(id) || !c.present[id] || c.evictable[id] == evictable {
		return
	}
	c.evictable[id] = evictable
	if evictable {
		c.size++
	} else {
		c.size--
	}
}

// evict picks a victim and stops tracking it.
func (c *clock) evict() (int, bool) {
	n := len(c.ref)
	if c.size == 0 {
		return -1, false
	}

	// Up to 2 sweeps: the first one may only clear ref bits.
	for range 2 * n {
		idx := c.hand
		c.hand = (c.hand + 1) % n

		if !c.present[idx] || !c.evictable[idx] {
			continue
		}
		if c.ref[idx] {
			c.ref[idx] = false
			continue
		}
		c.present[idx] = false
		c.evictable[idx] = false
		c.size--
		return idx, true
	}
	return -1, false
}

func (c *clock) remove(id int) {
	if !c.inRange(id) || !c.present[id] {
		return
	}
	if c.evictable[id] {
		c.size--
	}
	c.present[id] = false
	c.evictable[id] = false
	c.ref[id] = false
}
