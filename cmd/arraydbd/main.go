package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/sandia-minimega/arraydb/internal/connserver"
	"github.com/sandia-minimega/arraydb/internal/dispatch"
	"github.com/sandia-minimega/arraydb/internal/lockd"
	"github.com/sandia-minimega/arraydb/internal/store"
	"github.com/sandia-minimega/arraydb/pkg/alog"
)

const banner = `arraydbd, a hierarchical array database server`

var (
	fHost          = flag.String("host", "localhost", "host to bind the TCP listener to")
	fPort          = flag.Int("port", 2222, "TCP port to listen on, 0 disables the TCP listener")
	fSocket        = flag.String("socket", "", "Unix domain socket path to listen on, empty disables it")
	fBase          = flag.String("base", "/tmp/arraydbd", "base directory under which database files are resolved")
	fProcesses     = flag.Int("processes", 1, "number of OS threads the Go runtime may use for dispatch (GOMAXPROCS); 0 leaves the runtime default")
	fWorkers       = flag.Int("workers", 8, "number of requests dispatched concurrently, across every connection")
	fMaxConns      = flag.Int("maxconns", 0, "maximum simultaneous accepted connections per listener, 0 is unbounded")
	fLocking       = flag.String("locking", lockd.WriterPreference, "lock admission strategy: w (writer-preference) or n (no-starve)")
	fLockTimeout   = flag.Duration("lock-timeout", 20*time.Second, "how long a request waits to acquire its lock before failing")
	fShutdownGrace = flag.Duration("shutdown-grace", 30*time.Second, "how long to wait for in-flight connections to finish on shutdown")
	fDebug         = flag.String("debug", "info", "log level: debug, info, warn, error, fatal")
	fConfig        = flag.String("config", "", "path to a flat key=value config file; explicit flags win over any value set here")
)

func usage() {
	fmt.Println(banner)
	fmt.Println("usage: arraydbd [option]...")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *fConfig != "" {
		if err := applyConfigFile(*fConfig); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	level, err := alog.ParseLevel(*fDebug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := alog.New(os.Stderr, level, 1024)

	if *fProcesses > 0 {
		runtime.GOMAXPROCS(*fProcesses)
	}

	if err := validateBase(*fBase); err != nil {
		log.Fatalf("base directory %q: %v", *fBase, err)
	}

	locks, err := lockd.NewRegistry(*fLocking, *fLockTimeout)
	if err != nil {
		log.Fatalf("%v", err)
	}
	adapter := store.NewAdapter(*fBase, locks)

	srv := connserver.New(adapter, dispatch.Dispatch, log, connserver.Config{
		Workers:  *fWorkers,
		MaxConns: *fMaxConns,
	})

	if *fPort != 0 {
		addr := fmt.Sprintf("%s:%d", *fHost, *fPort)
		if err := srv.ListenTCP(addr); err != nil {
			log.Fatalf("listen tcp %v: %v", addr, err)
		}
	}
	if *fSocket != "" {
		if err := srv.ListenUnix(*fSocket); err != nil {
			log.Fatalf("listen unix %v: %v", *fSocket, err)
		}
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	sig := <-shutdown
	log.Infof("caught %v, shutting down", sig)
	srv.Shutdown(*fShutdownGrace)
}

// applyConfigFile merges path's flat key=value settings into the flag
// set. A flag already given explicitly on the command line wins over
// whatever the config file says for it.
func applyConfigFile(path string) error {
	explicit := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	kv, err := readConfigFile(path)
	if err != nil {
		return fmt.Errorf("config file %q: %w", path, err)
	}
	for name, value := range kv {
		if explicit[name] {
			continue
		}
		if flag.Lookup(name) == nil {
			return fmt.Errorf("config file %q: unknown flag %q", path, name)
		}
		if err := flag.Set(name, value); err != nil {
			return fmt.Errorf("config file %q: flag %q: %w", path, name, err)
		}
	}
	return nil
}

// readConfigFile parses a flat key=value file, one setting per line.
// Blank lines and lines starting with # are ignored.
func readConfigFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	kv := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed line %q", line)
		}
		kv[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return kv, nil
}

// validateBase requires base to exist, be a directory, and be writable,
// so misconfiguration is caught at startup rather than on the first
// create_db request.
func validateBase(base string) error {
	info, err := os.Stat(base)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory")
	}
	probe := filepath.Join(base, ".arraydbd-write-probe")
	f, err := os.Create(probe)
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	f.Close()
	os.Remove(probe)
	return nil
}
