// Package cmd implements dualfs's command-line surface, grounded on
// gcsfuse's cmd/root.go shape (a cobra root command with viper-backed
// persistent flags) scaled down to this binary's three subcommands
// (format, shell, partitions).
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	maxIOPS     float64
	metricsAddr string
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "dualfs",
	Short: "Format and drive sfs/fat32 disk images",
	Long: `dualfs mounts a disk image file under one of two block
filesystem engines (sfs or fat32) and exposes its syscall-style
operations (open, read, write, link, mkdir, copy, move, ...) through
an interactive shell.`,
}

// Execute runs the root command, exiting the process with status 1 on
// any error the way cobra-based CLIs in this ecosystem conventionally
// do.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.Float64Var(&maxIOPS, "max-iops", 0, "throttle sector I/O to this many operations per second (0 disables throttling)")
	pf.StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (empty disables the server)")
	pf.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	cobra.CheckErr(viper.BindPFlag("max-iops", pf.Lookup("max-iops")))
	cobra.CheckErr(viper.BindPFlag("metrics-addr", pf.Lookup("metrics-addr")))
	cobra.CheckErr(viper.BindPFlag("log-level", pf.Lookup("log-level")))
	viper.SetEnvPrefix("dualfs")
	viper.AutomaticEnv()
}
