// estimate-config sizes the compression subsystem's pinned pool memory for
// a given geometry and concurrency, checks it against the machine's
// available RAM, and prints a recommended compression config section.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/pierrec/lz4/v4"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/INLOpen/nexusfs/core"
)

// Pinned memory per active codec family, as a function of the maximum
// encoded extent size E and workspace count W:
//   lz4:  W * CompressBlockBound(E)            staging only
//   gzip: W * ~1.2 MiB                         flate window + hash state
//   zstd: W * (E + E/256 + 64 + encoder state) staging + encoder
// plus the shared decompress scratch pool and two bounce pools.
const (
	flateStateBytes = 1_200_000
	zstdStateBytes  = 2_500_000
)

func main() {
	var (
		blockSectors  = flag.Int("block-sectors", 8, "block size in 512-byte sectors")
		extentSectors = flag.Int("max-extent-sectors", 128, "maximum encoded extent size in sectors")
		workspaces    = flag.Int("workspaces", 4, "scratch workspaces per active codec")
		bounceBufs    = flag.Int("bounce-buffers", 2, "buffers per bounce pool")
		codecs        = flag.Int("codecs", 3, "number of codec families expected to activate (1-3)")
		ramFraction   = flag.Float64("ram-fraction", 0.05, "warn when pinned memory exceeds this fraction of available RAM")
	)
	flag.Parse()

	if !core.IsPowerOfTwo(*blockSectors) || !core.IsPowerOfTwo(*extentSectors) || *extentSectors < *blockSectors {
		fmt.Fprintf(os.Stderr, "invalid geometry: block=%d max-extent=%d sectors\n", *blockSectors, *extentSectors)
		os.Exit(1)
	}
	if *codecs < 1 || *codecs > 3 {
		fmt.Fprintln(os.Stderr, "codecs must be 1-3")
		os.Exit(1)
	}

	extentBytes := *extentSectors * core.SectorSize
	w := int64(*workspaces)

	lz4Pool := w * int64(lz4.CompressBlockBound(extentBytes))
	gzipPool := w * flateStateBytes
	zstdPool := w * (int64(extentBytes) + int64(extentBytes)>>8 + 64 + zstdStateBytes)

	perCodec := []int64{zstdPool, lz4Pool, gzipPool} // activation-likelihood order
	var pinned int64
	for i := 0; i < *codecs; i++ {
		pinned += perCodec[i]
	}
	// Shared decompress scratch (zstd decoder dominates) and bounce pools.
	pinned += w * zstdStateBytes
	pinned += 2 * int64(*bounceBufs) * int64(extentBytes)

	fmt.Printf("geometry: block=%d KiB, max extent=%d KiB\n", *blockSectors*core.SectorSize/1024, extentBytes/1024)
	fmt.Printf("pinned pool memory for %d codec(s): %.1f MiB\n", *codecs, float64(pinned)/(1<<20))

	vm, err := mem.VirtualMemory()
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: cannot read system memory: %v\n", err)
	} else {
		fmt.Printf("available RAM: %.0f MiB\n", float64(vm.Available)/(1<<20))
		if float64(pinned) > *ramFraction*float64(vm.Available) {
			fmt.Printf("warning: pinned memory exceeds %.0f%% of available RAM; reduce workspaces or max extent size\n",
				*ramFraction*100)
		}
	}

	// Budgets scale with concurrency: soft covers the common case, hard
	// leaves headroom before allocation blocks on the pools.
	soft := 4 * w * int64(extentBytes)
	hard := 4 * soft

	fmt.Println("\nrecommended config:")
	fmt.Printf("filesystem:\n")
	fmt.Printf("  block_size_sectors: %d\n", *blockSectors)
	fmt.Printf("  max_encoded_extent_sectors: %d\n", *extentSectors)
	fmt.Printf("compression:\n")
	fmt.Printf("  default: \"zstd\"\n")
	fmt.Printf("  zstd_level: 0\n")
	fmt.Printf("  workspace_count: %d\n", *workspaces)
	fmt.Printf("  bounce_pool_buffers: %d\n", *bounceBufs)
	fmt.Printf("  bounce_soft_budget_bytes: %d\n", soft)
	fmt.Printf("  bounce_hard_budget_bytes: %d\n", hard)
}
