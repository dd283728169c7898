package pipeline

// DefaultMaxEntries is the batch size used when none is configured
const DefaultMaxEntries = 20

// Item is one entry's plain text, identified by its entry ID and position
type Item struct {
	ID    string `json:"id"`
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// Batch is a run of consecutive items sent in one backend call
type Batch struct {
	ID    int    `json:"id"`
	Items []Item `json:"items"`
	Load  int    `json:"load"`
	// Context holds preceding text supplied to the backend as read-only context
	Context []string `json:"context,omitempty"`
}

// EntryIDs lists the batch's entry IDs in order
func (b Batch) EntryIDs() []string {
	ids := make([]string, len(b.Items))
	for i, it := range b.Items {
		ids[i] = it.ID
	}
	return ids
}

// Plan groups items into batches of at most maxEntries items whose combined
// estimated load stays within maxLoad. An item that alone exceeds maxLoad
// gets a batch of its own. maxLoad <= 0 disables the load budget.
func Plan(items []Item, estimate func(string) int, maxEntries, maxLoad int) []Batch {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	var batches []Batch
	var current []Item
	load := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		batches = append(batches, Batch{ID: len(batches) + 1, Items: current, Load: load})
		current = nil
		load = 0
	}

	for _, it := range items {
		cost := 0
		if estimate != nil {
			cost = estimate(it.Text)
		}
		if len(current) >= maxEntries || (maxLoad > 0 && len(current) > 0 && load+cost > maxLoad) {
			flush()
		}
		current = append(current, it)
		load += cost
	}
	flush()
	return batches
}
