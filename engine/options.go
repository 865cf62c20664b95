package engine

// Options configures a Database. Construct one only through New and the
// With* functions below; the zero value is not meaningful.
type Options struct {
	// MemtableCapacity is the number of distinct keys the active memtable
	// may hold before it is frozen and flushed to a level-0 SST.
	MemtableCapacity int

	// BaseFPR is the false positive rate used to size the bloom filter of
	// every memtable flush. Compaction outputs take their target FPR from
	// the Monkey allocation over BloomBitBudget instead, and fall back to
	// BaseFPR only when the level being compacted holds no entries.
	BaseFPR float64

	// CapacityExpansionFactor is how much wider each level is than the
	// one above it.
	CapacityExpansionFactor float64

	// Level0Width is the number of SSTs level 0 may hold before a
	// compaction is triggered.
	Level0Width uint

	// BloomBitBudget is the total bit budget handed to AllocateBloomBits
	// across all levels.
	BloomBitBudget uint64

	// BiasLevelZero caps level 0's effective compaction trigger at a
	// small constant (4) regardless of its configured width, since level
	// 0 is the level most sensitive to read amplification from
	// overlapping SSTs.
	BiasLevelZero bool
}

func defaultOptions() Options {
	return Options{
		MemtableCapacity:        1000,
		BaseFPR:                 0.005,
		CapacityExpansionFactor: 1.618,
		Level0Width:             8,
		BloomBitBudget:          1_000_000,
		BiasLevelZero:           true,
	}
}

// Option configures a Database at construction time.
type Option func(*Options)

func WithMemtableCapacity(n int) Option {
	return func(o *Options) { o.MemtableCapacity = n }
}

func WithBaseFPR(fpr float64) Option {
	return func(o *Options) { o.BaseFPR = fpr }
}

func WithCapacityExpansionFactor(factor float64) Option {
	return func(o *Options) { o.CapacityExpansionFactor = factor }
}

func WithLevel0Width(width uint) Option {
	return func(o *Options) { o.Level0Width = width }
}

func WithBloomBitBudget(bits uint64) Option {
	return func(o *Options) { o.BloomBitBudget = bits }
}

func WithLevelZeroBias(enabled bool) Option {
	return func(o *Options) { o.BiasLevelZero = enabled }
}
