package engine

// ResetRegistry removes every registered library
func ResetRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]Library)
}

// SetSeedSource replaces the seed used for requests without one
func (b *LibraryBackend) SetSeedSource(f func() int64) {
	b.seedSource = f
}
