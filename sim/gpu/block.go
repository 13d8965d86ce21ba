package gpu

import "github.com/kunsheng/gpgpu-sim/sim/kernel"

var blockCounter int

func nextBlockID() int {
	blockCounter++
	return blockCounter
}

// Block is a scheduling unit bound to one SM, holding up to
// GPU_MAX_WARP_PER_BLOCK warps and a private slice of its kernel's
// request queue (spec.md §3).
type Block struct {
	ID      int
	SMID    int
	Kernel  *kernel.Kernel
	Warps   []*Warp
	Record  kernel.BlockRecord
}

// Busy reports whether any of the block's warps still has work, per the
// block-completion rule in spec.md §4.5: "when all warps report ¬busy,
// record per-warp cycles... delete the block."
func (b *Block) Busy() bool {
	for _, w := range b.Warps {
		if w.Busy(!b.Kernel.Empty()) {
			return true
		}
	}
	return false
}
