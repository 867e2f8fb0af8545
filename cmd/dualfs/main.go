// Command dualfs drives the sfs/fat32 engines against a disk image
// file: formatting new volumes and, once mounted, running an
// interactive shell over fsapi's syscall surface. It stands in for the
// shell utilities, IDE-driver tooling, and raw syscall marshalling a
// real kernel would otherwise expose (spec §1).
package main

import "github.com/soypat/dualfs/cmd/dualfs/cmd"

func main() {
	cmd.Execute()
}
