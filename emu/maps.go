package emu

import "fmt"

// MapInfo describes one entry of the guest's memory-mapping table.
// Path may alias native snapshot memory: it must not be read after the
// GuestMaps that produced it has been released.
type MapInfo struct {
	Start  GuestAddr
	End    GuestAddr
	Offset GuestAddr
	Path   string
	Flags  MmapPerms
	Priv   bool
}

func (m MapInfo) String() string {
	desc := fmt.Sprintf("0x%x-0x%x %s", m.Start, m.End, m.Flags)
	if m.Priv {
		desc += " p"
	} else {
		desc += " s"
	}
	if m.Path != "" {
		desc += fmt.Sprintf(" %s", m.Path)
	}
	return desc
}

// GuestMaps is a lazy single-pass iterator over a point-in-time snapshot of
// the guest mapping table. It owns exactly one native snapshot, released
// exactly once: on exhaustion, or by Close for early discard. It is not
// restartable.
type GuestMaps struct {
	eng    Engine
	snap   interface{}
	cursor interface{}
	freed  bool
}

func newGuestMaps(eng Engine) *GuestMaps {
	snap := eng.ReadSelfMaps()
	return &GuestMaps{eng: eng, snap: snap, cursor: snap}
}

// Next returns the next mapping, or ok=false once the snapshot is
// exhausted. Exhaustion releases the snapshot.
func (g *GuestMaps) Next() (MapInfo, bool) {
	if g.freed || g.cursor == nil {
		g.release()
		return MapInfo{}, false
	}
	mi, next, ok := g.eng.MapsNext(g.cursor)
	g.cursor = next
	if !ok {
		g.release()
		return MapInfo{}, false
	}
	if next == nil {
		g.release()
	}
	return mi, true
}

// Close releases the snapshot if Next has not already done so. It is
// idempotent and must be called when an iterator is discarded early.
func (g *GuestMaps) Close() error {
	g.release()
	return nil
}

func (g *GuestMaps) release() {
	if g.freed || g.snap == nil {
		return
	}
	g.freed = true
	g.eng.FreeSelfMaps(g.snap)
}
