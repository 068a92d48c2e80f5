package mem

import "github.com/nextlevelbuilder/mercabot/internal/store"

// NewStores returns a fully in-memory store set.
func NewStores() *store.Stores {
	return &store.Stores{
		Conversations: NewConversationStore(),
		Buffer:        NewBuffer(),
		Cooldowns:     NewCooldowns(),
		Leases:        NewLeases(),
	}
}
