package swap

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/sarchlab/smartvm/mem/vm"
)

// SlotSummary describes one slot of a swap file.
type SlotSummary struct {
	Offset   int64  `json:"offset"`
	NonZero  int    `json:"non_zero"`
	Checksum uint32 `json:"checksum"`
}

// FileSummary describes the content of a swap file found on disk.
type FileSummary struct {
	Path      string        `json:"path"`
	Size      int64         `json:"size"`
	NumSlots  int64         `json:"num_slots"`
	ZeroSlots int64         `json:"zero_slots"`
	Slots     []SlotSummary `json:"slots"`
}

// Inspect reads a swap file and summarizes every slot in it. A trailing
// partial page is reported as an error.
func Inspect(path string) (FileSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileSummary{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return FileSummary{}, err
	}

	summary := FileSummary{
		Path:     path,
		Size:     info.Size(),
		NumSlots: info.Size() / vm.PageSize,
	}

	if info.Size()%vm.PageSize != 0 {
		return summary, fmt.Errorf("swap file %s has a partial page", path)
	}

	zero := make([]byte, vm.PageSize)
	page := make([]byte, vm.PageSize)

	for slot := int64(0); slot < summary.NumSlots; slot++ {
		if _, err := io.ReadFull(f, page); err != nil {
			return summary, fmt.Errorf("reading slot %d: %w", slot, err)
		}

		if bytes.Equal(page, zero) {
			summary.ZeroSlots++
			continue
		}

		summary.Slots = append(summary.Slots, SlotSummary{
			Offset:   slot * vm.PageSize,
			NonZero:  vm.PageSize - bytes.Count(page, []byte{0}),
			Checksum: crc32.ChecksumIEEE(page),
		})
	}

	return summary, nil
}
