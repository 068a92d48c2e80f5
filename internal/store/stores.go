package store

// StoreConfig selects and configures the storage backends.
type StoreConfig struct {
	Mode        string // "standalone" or "managed"
	PostgresDSN string
	SQLitePath  string // standalone conversation log; empty keeps it in memory
}

// IsManaged reports whether the keyed stores live in Postgres.
func (c StoreConfig) IsManaged() bool { return c.Mode == "managed" }

// Stores is the top-level container for all storage backends.
type Stores struct {
	Conversations ConversationStore
	Buffer        FragmentBuffer
	Cooldowns     CooldownStore
	Leases        LeaseStore

	closers []func() error
}

// OnClose registers a cleanup hook run by Close in reverse order.
func (s *Stores) OnClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

// Close releases every backend. The first error is returned.
func (s *Stores) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}
