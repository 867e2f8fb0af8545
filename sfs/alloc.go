package sfs

import "github.com/soypat/dualfs/icache"

// balloc scans the bitmap linearly, in groups of BPB bits, for the
// first clear bit; marks it, zero-fills the block, and returns its
// number. Grounded on sfs_inode.c's balloc. Fatal on exhaustion per
// spec §7 (out-of-resources).
func (fs *FS) balloc() (uint32, error) {
	sb := fs.sb
	for b := uint32(0); b < sb.Size; b += BPB {
		bn := sb.BBlock(b)
		buf, err := fs.bc.Bread(bn)
		if err != nil {
			return 0, err
		}
		limit := b + BPB
		if sb.Size < limit {
			limit = sb.Size
		}
		found := false
		var bit uint32
		for bi := uint32(0); b+bi < limit; bi++ {
			m := byte(1 << (bi % 8))
			if buf.Data[bi/8]&m == 0 {
				buf.Data[bi/8] |= m
				bit = bi
				found = true
				break
			}
		}
		if !found {
			fs.bc.Brelse(buf)
			continue
		}
		if err := fs.bc.LogWrite(buf); err != nil {
			fs.bc.Brelse(buf)
			return 0, err
		}
		fs.bc.Brelse(buf)
		blockno := b + bit
		if err := fs.bzero(blockno); err != nil {
			return 0, err
		}
		return blockno, nil
	}
	icache.Fatalf("sfs.FS.balloc", "out of blocks (size=%d)", sb.Size)
	panic("unreachable")
}

func (fs *FS) bzero(b uint32) error {
	buf, err := fs.bc.Bread(b)
	if err != nil {
		return err
	}
	for i := range buf.Data {
		buf.Data[i] = 0
	}
	err = fs.bc.LogWrite(buf)
	fs.bc.Brelse(buf)
	return err
}

// bfree clears block b's bitmap bit. Fatal if it was already free,
// matching sfs_inode.c's "freeing free block" panic.
func (fs *FS) bfree(b uint32) error {
	sb := fs.sb
	bn := sb.BBlock(b)
	buf, err := fs.bc.Bread(bn)
	if err != nil {
		return err
	}
	bi := b % BPB
	m := byte(1 << (bi % 8))
	if buf.Data[bi/8]&m == 0 {
		fs.bc.Brelse(buf)
		icache.Fatalf("sfs.FS.bfree", "freeing free block %d", b)
	}
	buf.Data[bi/8] &^= m
	err = fs.bc.LogWrite(buf)
	fs.bc.Brelse(buf)
	return err
}
