package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soypat/dualfs/blockdev"
	"github.com/soypat/dualfs/internal/gpt"
	"github.com/soypat/dualfs/internal/mbr"
)

var partitionsCmd = &cobra.Command{
	Use:   "partitions IMAGE",
	Short: "List the partition table of a disk image (spec's dual-engine image layout)",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		return runPartitions(args[0])
	},
}

func init() {
	rootCmd.AddCommand(partitionsCmd)
}

// runPartitions prints the partition table of an image that lays out
// both engines side by side (spec's scenario of mounting an sfs volume
// and a fat32 volume from one disk image), following whichever scheme
// sector 0 declares: a classic MBR, or a GPT protective MBR pointing at
// a GPT header at LBA 1.
func runPartitions(imagePath string) error {
	dev, err := openFileDevice(imagePath)
	if err != nil {
		return err
	}
	defer dev.Close()

	sec0 := make([]byte, blockdev.SectorSize)
	if err := dev.ReadSector(0, sec0); err != nil {
		return fmt.Errorf("dualfs: read MBR: %w", err)
	}
	bs, err := mbr.ToBootSector(sec0)
	if err != nil {
		return fmt.Errorf("dualfs: parse MBR: %w", err)
	}
	if bs.BootSignature() != mbr.BootSignature {
		return fmt.Errorf("dualfs: sector 0 has no valid MBR boot signature")
	}

	if bs.HasGPTProtectiveEntry() {
		return printGPT(dev)
	}
	return printMBR(bs)
}

func printMBR(bs mbr.BootSector) error {
	for i := 0; i < 4; i++ {
		pte := bs.PartitionTable(i)
		if pte.PartitionType() == mbr.PartitionTypeUnused {
			continue
		}
		fmt.Printf("mbr[%d] type=0x%02x start_lba=%d sectors=%d bootable=%v\n",
			i, byte(pte.PartitionType()), pte.StartLBA(), pte.NumberOfLBA(), pte.Attributes().IsBootable())
	}
	return nil
}

func printGPT(dev *fileDevice) error {
	hdrSector := make([]byte, blockdev.SectorSize)
	if err := dev.ReadSector(1, hdrSector); err != nil {
		return fmt.Errorf("dualfs: read GPT header: %w", err)
	}
	hdr, err := gpt.ToHeader(hdrSector)
	if err != nil {
		return fmt.Errorf("dualfs: parse GPT header: %w", err)
	}
	n := hdr.NumberOfPartitionEntries()
	entrySize := hdr.SizeOfPartitionEntry()
	entriesPerSector := hdr.EntriesPerSector(blockdev.SectorSize)
	startSector := uint32(hdr.PartitionEntryLBA())

	buf := make([]byte, blockdev.SectorSize)
	for i := uint32(0); i < n; i++ {
		sector := startSector + i/entriesPerSector
		if i%entriesPerSector == 0 {
			if err := dev.ReadSector(sector, buf); err != nil {
				return fmt.Errorf("dualfs: read GPT partition entries: %w", err)
			}
		}
		off := (i % entriesPerSector) * entrySize
		pe, err := gpt.ToPartitionEntry(buf[off : off+entrySize])
		if err != nil {
			return fmt.Errorf("dualfs: parse GPT partition entry %d: %w", i, err)
		}
		if pe.IsUnused() {
			continue
		}
		fmt.Printf("gpt[%d] first_lba=%d last_lba=%d type_guid=%x\n",
			i, pe.FirstLBA(), pe.LastLBA(), pe.PartitionTypeGUID())
	}
	return nil
}
