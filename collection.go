package lodestone

import (
	"context"
	"errors"
	"log/slog"

	"github.com/poiesic/lodestone/core"
	"github.com/poiesic/lodestone/manager"
	"github.com/poiesic/lodestone/scope"
	"github.com/poiesic/lodestone/search"
	"github.com/poiesic/lodestone/storage"
)

// Collection is an open handle on one collection.
// It is safe for concurrent use.
type Collection struct {
	db       *Database
	manager  *manager.Manager
	searcher *search.Searcher
	logger   *slog.Logger
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.manager.Collection().Name
}

// Config returns a copy of the collection config.
func (c *Collection) Config() core.Collection {
	return *c.manager.Collection()
}

// Put stores content and its vector under scopeID and indexes it.
// The principal must control scopeID.
func (c *Collection) Put(ctx context.Context, principal scope.Principal, scopeID core.ScopeID, content string, vector []float32) (*core.Record, error) {
	if err := scope.Authorize(principal, scopeID); err != nil {
		if errors.Is(err, core.ErrScopeViolation) {
			c.logger.Warn("rejected write outside the principal's scopes", "scope", scopeID)
		}
		return nil, err
	}
	return c.manager.Insert(ctx, &core.Record{Scope: scopeID, Content: content, Vector: vector})
}

// Get returns the record with id. Records outside the principal's scopes
// are reported as storage.ErrNotFound.
func (c *Collection) Get(ctx context.Context, principal scope.Principal, id core.ID) (*core.Record, error) {
	record, err := c.db.records.GetRecord(ctx, c.Name(), id)
	if err != nil {
		return nil, err
	}
	if !principal.Controls(record.Scope) {
		return nil, storage.ErrNotFound
	}
	return record, nil
}

// Delete removes the record with id from the store and every index.
// Records outside the principal's scopes are reported as storage.ErrNotFound.
func (c *Collection) Delete(ctx context.Context, principal scope.Principal, id core.ID) (*core.Record, error) {
	if _, err := c.Get(ctx, principal, id); err != nil {
		return nil, err
	}
	return c.manager.Delete(ctx, id)
}

// Search runs a query as principal.
func (c *Collection) Search(ctx context.Context, principal scope.Principal, req search.Request) (*search.Response, error) {
	return c.searcher.Search(ctx, principal, req)
}

// SearchWithMonitor runs a query as principal, reporting each stage to monitor.
func (c *Collection) SearchWithMonitor(ctx context.Context, principal scope.Principal, req search.Request, monitor search.SearchMonitor) (*search.Response, error) {
	return c.searcher.SearchWithMonitor(ctx, principal, req, monitor)
}

// SearchExact ranks every record the principal controls by exact distance to vector.
// It bypasses the ANN index and is meant for measuring recall.
func (c *Collection) SearchExact(ctx context.Context, principal scope.Principal, vector []float32, k int) ([]*core.SearchResult, error) {
	config := c.manager.Collection()
	if err := core.ValidateVector(vector, config.Dimension); err != nil {
		return nil, err
	}
	return c.db.records.FindNearest(ctx, config.Name, vector, config.Metric, k, func(r *core.Record) bool {
		return principal.Controls(r.Scope)
	})
}

// Train fits the cluster index to the current records.
func (c *Collection) Train(ctx context.Context) error {
	return c.manager.Train(ctx)
}

// Rebuild reconstructs every index from the store.
func (c *Collection) Rebuild(ctx context.Context) error {
	return c.manager.Rebuild(ctx)
}

// SwitchVariant rebuilds the collection on another ANN structure and stores the new config.
func (c *Collection) SwitchVariant(ctx context.Context, variant core.Variant) error {
	config, err := c.manager.SwitchVariant(ctx, variant)
	if err != nil {
		return err
	}
	return c.db.collections.UpdateCollection(ctx, config)
}

// Persist writes the current index snapshot so the next open skips the rebuild.
func (c *Collection) Persist(ctx context.Context) error {
	return c.manager.Persist(ctx)
}

// Stats reports the state of the collection's indexes.
func (c *Collection) Stats() manager.Stats {
	return c.manager.Stats()
}

// WaitMaintenance blocks until background training and rebuilds have finished.
func (c *Collection) WaitMaintenance() {
	c.manager.WaitMaintenance()
}
