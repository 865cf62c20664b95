package engine

import "github.com/Priyanshu23/byronkv/sstable"

// Level holds every SST at one depth of the tree. SSTs within a level may
// hold overlapping key ranges at any depth: each flush adds one SST to
// level 0, and each compaction adds its merged output as one more SST of
// the next level.
type Level struct {
	Depth        uint
	Width        uint
	SSTs         []*sstable.SSTable
	TotalEntries uint64
}

// Snapshot returns a point-in-time copy of the level's SST references. The
// compactor merges against this snapshot without holding the database's
// level lock, so new inserts can proceed concurrently with a running
// compaction.
func (l *Level) Snapshot() Level {
	cp := make([]*sstable.SSTable, len(l.SSTs))
	copy(cp, l.SSTs)
	return Level{Depth: l.Depth, Width: l.Width, SSTs: cp, TotalEntries: l.TotalEntries}
}

// nextWidth computes a deeper level's capacity from its shallower
// neighbor's, per the tree's capacity expansion factor (golden-ratio by
// default).
func nextWidth(prev uint, factor float64) uint {
	return uint(float64(prev) * factor)
}

// removeCompacted returns the survivors of ssts after removing every table
// also present in compacted (matched by pointer identity, since a level may
// have grown new SSTs since compacted's snapshot was taken), along with the
// survivors' total entry count recomputed from scratch.
func removeCompacted(ssts, compacted []*sstable.SSTable) ([]*sstable.SSTable, uint64) {
	gone := make(map[*sstable.SSTable]bool, len(compacted))
	for _, sst := range compacted {
		gone[sst] = true
	}

	survivors := make([]*sstable.SSTable, 0, len(ssts))
	var total uint64
	for _, sst := range ssts {
		if gone[sst] {
			continue
		}
		survivors = append(survivors, sst)
		total += uint64(sst.ItemCount())
	}
	return survivors, total
}
