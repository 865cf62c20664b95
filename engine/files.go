package engine

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
)

// newSSTPath names a new output file for a memtable flush or a compaction.
// Files are named by a random UUID rather than a sequential counter, since
// flushes and compactions both produce new SSTs concurrently and must
// never collide.
func newSSTPath(dir string) string {
	return filepath.Join(dir, fmt.Sprintf("sstable-%s.sst", uuid.NewString()))
}
