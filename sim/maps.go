package sim

import "github.com/dylanjwolff/libafl/emu"

// self-map snapshot protocol. The snapshot handle doubles as the first
// cursor; cursors share one snapshot, and freeing goes through the handle.

type mapsSnap struct {
	entries []emu.MapInfo
	frees   int
}

type mapsCursor struct {
	snap *mapsSnap
	idx  int
}

func (g *Engine) ReadSelfMaps() interface{} {
	snap := &mapsSnap{}
	for _, pg := range g.mem.Mappings() {
		snap.entries = append(snap.entries, emu.MapInfo{
			Start:  pg.Addr,
			End:    pg.Addr + pg.Size,
			Offset: pg.Off,
			Path:   pg.Path,
			Flags:  pg.Prot,
			Priv:   pg.Priv,
		})
	}
	g.Stats.Snapshots++
	return &mapsCursor{snap: snap}
}

func (g *Engine) MapsNext(cursor interface{}) (emu.MapInfo, interface{}, bool) {
	c := cursor.(*mapsCursor)
	if c.idx >= len(c.snap.entries) {
		return emu.MapInfo{}, nil, false
	}
	mi := c.snap.entries[c.idx]
	return mi, &mapsCursor{snap: c.snap, idx: c.idx + 1}, true
}

func (g *Engine) FreeSelfMaps(snapshot interface{}) {
	c := snapshot.(*mapsCursor)
	c.snap.frees++
	g.Stats.SnapshotsFreed++
}
