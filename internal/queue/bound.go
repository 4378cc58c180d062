package queue

// appendBounded appends item to items and evicts from the head until the
// result holds at most maxSize entries. It returns the new slice and the
// evicted items, oldest first.
func appendBounded(items []Item, item Item, maxSize int) (kept, evicted []Item) {
	if maxSize <= 0 {
		maxSize = DefaultMaxQueueSize
	}

	if over := len(items) + 1 - maxSize; over > 0 {
		evicted = append(evicted, items[:over]...)
		items = items[over:]
	}

	kept = make([]Item, 0, len(items)+1)
	kept = append(kept, items...)
	kept = append(kept, item)
	return kept, evicted
}

// mergeByID appends the items of extra that are not already in base. Items
// that share an id with base are dropped so ids stay unique in the queue.
func mergeByID(base, extra []Item) []Item {
	if len(extra) == 0 {
		return base
	}

	seen := make(map[string]struct{}, len(base))
	for _, it := range base {
		seen[it.ID] = struct{}{}
	}
	for _, it := range extra {
		if _, dup := seen[it.ID]; dup {
			continue
		}
		seen[it.ID] = struct{}{}
		base = append(base, it)
	}
	return base
}
