// Command codeobj inspects a GPU code object outside of a debug session:
// it materializes the object from its URI, reports the in-memory footprint,
// lists or looks up function symbols and optionally saves the raw bytes.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/nakajee/rocr-debug-agent/pkg/codeobject"
)

type config struct {
	uri         string
	loadAddress string
	lookup      string
	listSymbols bool
	saveDir     string
	verbose     bool
}

func (cfg *config) registerFlags(f *flag.FlagSet) {
	f.StringVar(&cfg.uri, "uri", "", "Code object URI (file://path?offset=N&size=N or memory://...)")
	f.StringVar(&cfg.loadAddress, "load-address", "0", "Load address the object should be treated as loaded at (base auto-detected)")
	f.StringVar(&cfg.lookup, "lookup", "", "Address to resolve against the symbol and line tables (base auto-detected)")
	f.BoolVar(&cfg.listSymbols, "symbols", false, "List every function symbol in the object")
	f.StringVar(&cfg.saveDir, "save", "", "Directory to save the object's raw bytes to")
	f.BoolVar(&cfg.verbose, "verbose", false, "Enable debug logging")
}

func main() {
	var cfg config
	cfg.registerFlags(flag.CommandLine)
	flag.Parse()

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	if !cfg.verbose {
		logger = level.NewFilter(logger, level.AllowInfo())
	}

	if err := run(logger, cfg); err != nil {
		level.Error(logger).Log("err", err)
		os.Exit(1)
	}
}

func run(logger log.Logger, cfg config) error {
	if cfg.uri == "" {
		flag.Usage()
		return fmt.Errorf("-uri is required")
	}
	loadAddress, err := strconv.ParseUint(cfg.loadAddress, 0, 64)
	if err != nil {
		return fmt.Errorf("invalid -load-address: %w", err)
	}

	co := codeobject.New(logger, 0, cfg.uri, loadAddress, nil)
	if err := co.Open(); err != nil {
		return err
	}

	fmt.Printf("code object: %s\n", co.URI())
	fmt.Printf("loaded at:   [0x%x-0x%x] (%s)\n",
		co.LoadAddress(), co.LoadAddress()+co.MemSize(), humanize.IBytes(co.MemSize()))

	if cfg.listSymbols {
		for _, sym := range co.Symbols() {
			fmt.Printf("0x%016x %8d %s\n", sym.Value, sym.Size, sym.Name)
		}
	}

	if cfg.lookup != "" {
		addr, err := strconv.ParseUint(cfg.lookup, 0, 64)
		if err != nil {
			return fmt.Errorf("invalid -lookup address: %w", err)
		}
		if sym, ok := co.FindSymbol(addr); ok {
			fmt.Printf("0x%x: <%s+%d>\n", addr, sym.Name, addr-sym.Value)
		} else {
			fmt.Printf("0x%x: no symbol\n", addr)
		}
		if le, ok := co.LineEntryAt(addr); ok {
			fmt.Printf("0x%x: %s:%d\n", addr, le.File, le.Line)
		}
	}

	if cfg.saveDir != "" {
		if err := co.Save(cfg.saveDir); err != nil {
			return err
		}
	}
	return nil
}
