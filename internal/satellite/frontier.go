package satellite

// frontierEntry is one URL waiting to be crawled with its discovery depth
type frontierEntry struct {
	url   string
	depth int
}

// Frontier is the FIFO of URLs waiting to be crawled. Seeds enter at
// depth 0; discovered links at parent depth + 1.
type Frontier struct {
	entries []frontierEntry
}

// NewFrontier seeds a frontier from the job's seed URLs
func NewFrontier(seeds []string) *Frontier {
	f := &Frontier{entries: make([]frontierEntry, 0, len(seeds))}
	for _, seed := range seeds {
		f.entries = append(f.entries, frontierEntry{url: seed, depth: 0})
	}
	return f
}

// Pop removes and returns the oldest entry
func (f *Frontier) Pop() (string, int, bool) {
	if len(f.entries) == 0 {
		return "", 0, false
	}
	entry := f.entries[0]
	f.entries = f.entries[1:]
	return entry.url, entry.depth, true
}

// Push appends an entry
func (f *Frontier) Push(url string, depth int) {
	f.entries = append(f.entries, frontierEntry{url: url, depth: depth})
}

// Len returns the number of waiting entries
func (f *Frontier) Len() int {
	return len(f.entries)
}
