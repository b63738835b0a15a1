package reconcile

// Detector flags a path equal to the one checked immediately before it.
// Only adjacent repeats are detected, which relies on the source being
// read in path order. The zero value is ready to use.
type Detector struct {
	prev    string
	started bool
	skipped int
}

// Seen reports whether path repeats the previous path and counts it if so.
// The first call never reports a duplicate.
func (d *Detector) Seen(path string) bool {
	if d.started && path == d.prev {
		d.skipped++
		return true
	}
	d.prev = path
	d.started = true
	return false
}

// Skipped returns the number of duplicates reported since the last Reset.
func (d *Detector) Skipped() int {
	return d.skipped
}

// Reset forgets the previous path and the counter.
func (d *Detector) Reset() {
	*d = Detector{}
}
