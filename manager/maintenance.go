package manager

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/poiesic/lodestone/core"
	"github.com/poiesic/lodestone/index/hnsw"
	"github.com/poiesic/lodestone/index/ivf"
)

const maintenanceTimeout = 30 * time.Minute

// maybeMaintain schedules training or a rebuild when the current generation
// has drifted far enough. Each kind of job runs at most once at a time.
func (m *Manager) maybeMaintain() {
	if !m.autoMaintain || m.closed.Load() {
		return
	}
	st := m.state.Load()

	switch ann := st.ann.(type) {
	case *ivf.Index:
		need := max(st.collection.Cluster.MinTrainingSize, st.collection.Cluster.Lists)
		switch {
		case !ann.Trained() && ann.Len() >= need:
			m.schedule("train", &m.training, m.Train)
		case ann.Trained() && float64(ann.Len()) > m.retrainGrowth*float64(ann.TrainedSize()):
			m.schedule("retrain", &m.training, m.Train)
		}
	case *hnsw.Graph:
		if ann.Tombstones() >= minTombstonesForRebuild && ann.TombstoneRatio() > m.tombstoneRatio {
			m.schedule("rebuild", &m.rebuilding, m.Rebuild)
		}
	}
}

func (m *Manager) schedule(kind string, flag *atomic.Bool, job func(context.Context) error) {
	if !flag.CompareAndSwap(false, true) {
		return
	}
	m.inflight.Add(1)
	err := m.pool.Submit(func() {
		defer m.inflight.Done()
		defer flag.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
		defer cancel()

		m.logger.Debug("maintenance started", "job", kind)
		err := job(ctx)
		switch {
		case err == nil:
			m.logger.Debug("maintenance finished", "job", kind)
		case errors.Is(err, core.ErrInsufficientTrainingData):
			m.logger.Debug("maintenance skipped", "job", kind, "err", err)
		default:
			m.logger.Warn("maintenance failed", "job", kind, "err", err)
		}
	})
	if err != nil {
		m.inflight.Done()
		flag.Store(false)
		m.logger.Debug("maintenance not scheduled", "job", kind, "err", err)
	}
}

// WaitMaintenance blocks until scheduled maintenance has finished.
func (m *Manager) WaitMaintenance() {
	m.inflight.Wait()
}

// Stats describes the current generation.
type Stats struct {
	Collection   string
	Variant      core.Variant
	Count        int  // live vectors in the ANN index
	Trained      bool // always true for the graph variant
	TrainedSize  int
	Overflow     int // cluster vectors waiting for training
	Tombstones   int // deleted graph nodes awaiting a rebuild
	Generation   uint64
	KeywordDocs  int
	KeywordTerms int
	Scopes       int
	BuiltAt      time.Time
}

// Stats reports on the current generation without blocking writers.
func (m *Manager) Stats() Stats {
	st := m.state.Load()
	s := Stats{
		Collection:   st.collection.Name,
		Variant:      st.collection.Variant,
		Count:        st.ann.Len(),
		Trained:      true,
		Generation:   st.generation,
		KeywordDocs:  st.keyword.Len(),
		KeywordTerms: st.keyword.Terms(),
		Scopes:       st.scopes.Len(),
		BuiltAt:      st.builtAt,
	}
	switch ann := st.ann.(type) {
	case *ivf.Index:
		s.Trained = ann.Trained()
		s.TrainedSize = ann.TrainedSize()
		s.Overflow = ann.OverflowLen()
	case *hnsw.Graph:
		s.Tombstones = ann.Tombstones()
	}
	return s
}
