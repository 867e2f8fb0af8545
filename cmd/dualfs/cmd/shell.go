package cmd

import (
	"bufio"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/soypat/dualfs/blockdev"
	"github.com/soypat/dualfs/fat32"
	"github.com/soypat/dualfs/fsapi"
	"github.com/soypat/dualfs/icache"
	"github.com/soypat/dualfs/sfs"
	"github.com/soypat/dualfs/vfs"
)

var shellEngine string

var shellCmd = &cobra.Command{
	Use:   "shell IMAGE",
	Short: "Mount a disk image and drive it from an interactive shell",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		return runShell(args[0])
	},
}

func init() {
	shellCmd.Flags().StringVar(&shellEngine, "engine", "sfs", "filesystem engine: sfs or fat32")
	rootCmd.AddCommand(shellCmd)
}

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func runShell(imagePath string) error {
	log := newLogger()
	dev, err := openFileDevice(imagePath)
	if err != nil {
		return err
	}
	defer dev.Close()

	var bdev blockdev.Device = dev
	if maxIOPS > 0 {
		bdev = blockdev.NewRateLimitedDevice(dev, maxIOPS)
	}
	bc := blockdev.NewCache(bdev, log)

	var reg prometheus.Registerer
	if metricsAddr != "" {
		reg = prometheus.NewRegistry()
		srv := &http.Server{Addr: metricsAddr, Handler: promhttp.HandlerFor(reg.(*prometheus.Registry), promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server stopped", slog.String("err", err.Error()))
			}
		}()
		log.Info("serving metrics", slog.String("addr", metricsAddr))
	}
	ic := icache.New(log, reg)

	var boot vfs.Root
	switch shellEngine {
	case "sfs":
		fs, err := sfs.Mount(bc, 0, ic, sfs.NewDeviceTable(), log)
		if err != nil {
			return fmt.Errorf("dualfs: mount sfs: %w", err)
		}
		boot = fs
	case "fat32":
		fs, err := fat32.Mount(bc, 0, ic, fat32.NewDeviceTable(), fat32.SystemClock{}, log)
		if err != nil {
			return fmt.Errorf("dualfs: mount fat32: %w", err)
		}
		boot = fs
	default:
		return fmt.Errorf("dualfs: unknown engine %q (want sfs or fat32)", shellEngine)
	}

	api := fsapi.New(fsapi.Mount{Root: boot, BC: bc}, log)
	cwd, err := boot.GetRoot()
	if err != nil {
		return fmt.Errorf("dualfs: get root: %w", err)
	}
	proc := api.NewProcess(cwd)
	defer proc.Exit()

	return repl(proc)
}

func repl(proc *fsapi.Process) error {
	sc := bufio.NewScanner(os.Stdin)
	fmt.Fprint(os.Stdout, "dualfs> ")
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			if err := dispatch(proc, line); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
			}
		}
		fmt.Fprint(os.Stdout, "dualfs> ")
	}
	fmt.Fprintln(os.Stdout)
	return sc.Err()
}

func dispatch(proc *fsapi.Process, line string) error {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "exit", "quit":
		os.Exit(0)
	case "pwd":
		path, err := proc.Getcwd()
		if err != nil {
			return err
		}
		fmt.Println(path)
	case "cd":
		return argsRequired(args, 1, proc.Chdir)
	case "mkdir":
		return argsRequired(args, 1, proc.Mkdir)
	case "rmdir":
		return argsRequired(args, 1, proc.Rmdir)
	case "rm":
		return argsRequired(args, 1, proc.Unlink)
	case "rmr":
		return argsRequired(args, 1, proc.Remove)
	case "touch":
		return argsRequired(args, 1, proc.Touch)
	case "ln":
		if len(args) != 2 {
			return fmt.Errorf("usage: ln OLD NEW")
		}
		return proc.Link(args[0], args[1])
	case "cp":
		if len(args) != 2 {
			return fmt.Errorf("usage: cp SRC DST")
		}
		return proc.Copy(args[0], args[1])
	case "mv":
		if len(args) != 2 {
			return fmt.Errorf("usage: mv SRC DST")
		}
		return proc.Move(args[0], args[1])
	case "cat":
		if len(args) != 1 {
			return fmt.Errorf("usage: cat PATH")
		}
		return catFile(proc, args[0])
	case "write":
		if len(args) < 2 {
			return fmt.Errorf("usage: write PATH TEXT...")
		}
		return writeFile(proc, args[0], strings.Join(args[1:], " "))
	case "stat":
		if len(args) != 1 {
			return fmt.Errorf("usage: stat PATH")
		}
		return statFile(proc, args[0])
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func argsRequired(args []string, n int, fn func(string) error) error {
	if len(args) != n {
		return fmt.Errorf("expected %d argument(s), got %d", n, len(args))
	}
	return fn(args[0])
}

func catFile(proc *fsapi.Process, path string) error {
	fd, err := proc.Open(path, vfs.ORDONLY)
	if err != nil {
		return err
	}
	defer proc.Close(fd)
	buf := make([]byte, 4096)
	for {
		n, err := proc.Read(fd, buf)
		if n > 0 {
			os.Stdout.Write(buf[:n])
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

func writeFile(proc *fsapi.Process, path, text string) error {
	fd, err := proc.Open(path, vfs.OCREATE|vfs.OWRONLY)
	if err != nil {
		return err
	}
	defer proc.Close(fd)
	_, err = proc.Write(fd, []byte(text))
	return err
}

func statFile(proc *fsapi.Process, path string) error {
	fd, err := proc.Open(path, vfs.ORDONLY)
	if err != nil {
		return err
	}
	defer proc.Close(fd)
	st, err := proc.Fstat(fd)
	if err != nil {
		return err
	}
	fmt.Printf("type=%d fstype=%s ino=%d nlink=%d size=%d\n",
		st.Type, st.FSType, st.Ino, st.NLink, st.Size)
	return nil
}
