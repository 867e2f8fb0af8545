package vfs

// Open-mode flags, fcntl.h-style (spec §6).
const (
	ORDONLY = 0x000
	OWRONLY = 0x001
	ORDWR   = 0x002
	OCREATE = 0x200
)

// Readable reports whether flags permit reading (spec §4.5: "readable
// iff not O_WRONLY").
func Readable(flags int) bool { return flags&OWRONLY == 0 }

// Writable reports whether flags permit writing (spec §4.5: "writable
// iff O_WRONLY or O_RDWR").
func Writable(flags int) bool { return flags&(OWRONLY|ORDWR) != 0 }
