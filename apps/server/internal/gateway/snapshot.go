package gateway

import (
	"context"
	"time"

	"github.com/Nera26/pokerhub-sub001/apps/server/internal/ledger"
	"go.uber.org/zap"
)

// loadSnapshots seeds table views so ticks continue across restarts.
func (g *Gateway) loadSnapshots(ctx context.Context) error {
	snaps, err := g.ledger.LoadSnapshots(ctx)
	if err != nil {
		return err
	}
	for _, s := range snaps {
		v := g.view(s.TableID)
		v.mu.Lock()
		if s.Tick > v.tick {
			v.tick = s.Tick
			v.state = s.State
			v.has = true
		}
		v.mu.Unlock()
	}
	g.logger.Info("snapshots restored", zap.Int("tables", len(snaps)))
	return nil
}

func (g *Gateway) snapshotLoop() {
	defer g.wg.Done()
	ticker := time.NewTicker(g.opts.SnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-g.done:
			return
		case <-ticker.C:
			g.persistSnapshots()
		}
	}
}

// persistSnapshots writes every table that changed since the last round.
// A failed write leaves the table dirty for the next round.
func (g *Gateway) persistSnapshots() {
	g.mu.RLock()
	views := make(map[string]*tableView, len(g.tables))
	for id, v := range g.tables {
		views[id] = v
	}
	g.mu.RUnlock()

	saved := 0
	for tableID, v := range views {
		v.mu.Lock()
		if !v.dirty || !v.has {
			v.mu.Unlock()
			continue
		}
		snap := ledger.Snapshot{TableID: tableID, Tick: v.tick, State: v.state.Clone(), SavedAt: time.Now().UTC()}
		v.dirty = false
		v.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err := g.ledger.SaveSnapshot(ctx, snap)
		cancel()
		if err != nil {
			g.logger.Warn("snapshot save failed", zap.String("table_id", tableID), zap.Error(err))
			v.mu.Lock()
			v.dirty = true
			v.mu.Unlock()
			continue
		}
		saved++
	}
	if saved > 0 {
		g.logger.Debug("snapshots saved", zap.Int("tables", saved))
	}
}
