package tools

import "github.com/nextlevelbuilder/mercabot/internal/store"

// NewStoreRegistry registers every store tool.
func NewStoreRegistry(b *Backend, conversations store.ConversationStore) *Registry {
	r := NewRegistry()
	r.Register(NewKnowledgeTool(b))
	r.Register(NewStockByEANTool(b))
	r.Register(NewStockSearchTool(b))
	r.Register(NewSubmitOrderTool(b))
	r.Register(NewUpdateOrderTool(b))
	r.Register(NewTimeTool())
	if conversations != nil {
		r.Register(NewHistoryTool(conversations))
	}
	return r
}
