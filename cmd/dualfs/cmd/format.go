package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soypat/dualfs/blockdev"
	"github.com/soypat/dualfs/fat32"
	"github.com/soypat/dualfs/icache"
	"github.com/soypat/dualfs/sfs"
	"github.com/soypat/dualfs/vfs"
)

var (
	formatEngine     string
	formatSectors    uint32
	formatNInodes    uint32
	formatSecPerClus uint8
	formatNumFATs    uint8
	formatRsvdSecCnt uint16
	formatFATSz32    uint32
)

var formatCmd = &cobra.Command{
	Use:   "format IMAGE",
	Short: "Create and format a new disk image",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		return runFormat(args[0])
	},
}

func init() {
	pf := formatCmd.Flags()
	pf.StringVar(&formatEngine, "engine", "sfs", "filesystem engine: sfs or fat32")
	pf.Uint32Var(&formatSectors, "sectors", 2048, "volume size in sectors")
	pf.Uint32Var(&formatNInodes, "ninodes", 200, "sfs: number of inodes to reserve")
	pf.Uint8Var(&formatSecPerClus, "sec-per-clus", 1, "fat32: sectors per cluster")
	pf.Uint8Var(&formatNumFATs, "num-fats", 2, "fat32: number of FAT copies to mirror")
	pf.Uint16Var(&formatRsvdSecCnt, "rsvd-sec-cnt", 32, "fat32: reserved sector count before the first FAT")
	pf.Uint32Var(&formatFATSz32, "fat-sz32", 32, "fat32: sectors per FAT copy")
	rootCmd.AddCommand(formatCmd)
}

func runFormat(imagePath string) error {
	dev, err := createFileDevice(imagePath, formatSectors)
	if err != nil {
		return err
	}
	defer dev.Close()
	bc := blockdev.NewCache(dev, nil)

	switch formatEngine {
	case "sfs":
		if err := sfs.Format(bc, formatSectors, formatNInodes); err != nil {
			return fmt.Errorf("dualfs: format sfs: %w", err)
		}
		return bootstrapSFSRoot(bc)
	case "fat32":
		err := fat32.Format(bc, formatSectors, formatSecPerClus, formatNumFATs, formatRsvdSecCnt, formatFATSz32)
		if err != nil {
			return fmt.Errorf("dualfs: format fat32: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("dualfs: unknown engine %q (want sfs or fat32)", formatEngine)
	}
}

// bootstrapSFSRoot gives a freshly formatted SFS volume a root
// directory with "." and ".." entries, the way a real mkfs tool built
// on this engine would — sfs.Format itself only lays out the
// superblock and bitmap, mirroring sfs_test.go's newTestFS helper.
func bootstrapSFSRoot(bc *blockdev.Cache) error {
	ic := icache.New(nil, nil)
	fs, err := sfs.Mount(bc, 0, ic, sfs.NewDeviceTable(), nil)
	if err != nil {
		return err
	}
	root, err := fs.GetRoot()
	if err != nil {
		return err
	}
	ri := root.(*sfs.Inode)
	created, err := ri.Ialloc(vfs.TypeDir)
	if err != nil {
		return err
	}
	c := created.(*sfs.Inode)
	if err := c.Lock(); err != nil {
		return err
	}
	if err := c.DirLink(".", c); err != nil {
		c.UnlockPut()
		return err
	}
	if err := c.DirLink("..", c); err != nil {
		c.UnlockPut()
		return err
	}
	return c.UnlockPut()
}
