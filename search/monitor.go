package search

import (
	"github.com/poiesic/lodestone/core"
)

// SearchMonitor provides hooks to observe the search process.
// Implement this interface to track intermediate steps and results during search.
// All hooks are called from the goroutine that called Search.
type SearchMonitor interface {
	Start(req Request, mode Mode)
	AfterANNSearch(ids []core.ID, widenings int, partial bool)
	AfterKeywordSearch(ids []core.ID, partial bool)
	AfterFusion(ids []core.ID)
	AfterRecordRetrieval(records []*core.Record)
	ScopeRejected(record *core.Record)
	Finish(resp *Response)
}

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ Request, _ Mode)                   {}
func (n *noopMonitor) AfterANNSearch(_ []core.ID, _ int, _ bool) {}
func (n *noopMonitor) AfterKeywordSearch(_ []core.ID, _ bool)    {}
func (n *noopMonitor) AfterFusion(_ []core.ID)                   {}
func (n *noopMonitor) AfterRecordRetrieval(_ []*core.Record)     {}
func (n *noopMonitor) ScopeRejected(_ *core.Record)              {}
func (n *noopMonitor) Finish(_ *Response)                        {}
