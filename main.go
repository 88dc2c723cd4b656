// Command xdftune reads and edits ECU bin images through XDF definitions.
package main

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tosih/xdftune/pkg/config"
	"github.com/tosih/xdftune/pkg/renderer"
	"github.com/tosih/xdftune/pkg/tune"
	"github.com/tosih/xdftune/pkg/xdf"
)

var (
	// Global flags
	verbose     bool
	configPath  string
	defPath     string
	binPath     string
	displayMode string
	style       string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "xdftune",
	Short: "Read and edit ECU bin images described by XDF definitions",
	Long: `xdftune decodes the tables, constants and flags an XDF definition
declares in a bin image, edits them in physical units and writes the image
back with its checksums updated.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
		if cmd.Flags().Changed("display") {
			cfg.Display = displayMode
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if logger, err = cfg.Logger(verbose); err != nil {
			return err
		}
		logger.Debug("config loaded", zap.String("path", configPath))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	pf.StringVar(&configPath, "config", config.DefaultPath(), "settings file (.yaml or .toml)")
	pf.StringVarP(&defPath, "xdf", "x", "", "XDF definition file")
	pf.StringVarP(&binPath, "bin", "b", "", "bin image file")
	pf.StringVar(&displayMode, "display", config.DisplayPhysical, "number display: physical, raw or hex")
	pf.StringVar(&style, "style", renderer.StyleValues, "table style: values, heatmap or symbols")

	rootCmd.AddCommand(
		infoCmd, listCmd, showCmd, getCmd, setCmd, flagCmd,
		exportCmd, importCmd, compareCmd, scanCmd, checksumCmd,
		editCmd, journalCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(err.Error())
		os.Exit(1)
	}
}

// openSession loads the definition and bin named by the global flags. The
// caller closes the session.
func openSession() (*tune.Session, *xdf.Report, error) {
	if defPath == "" || binPath == "" {
		return nil, nil, fmt.Errorf("both --xdf and --bin are required")
	}
	opts, err := cfg.SessionOptions(logger)
	if err != nil {
		return nil, nil, err
	}
	s, rep, err := tune.Open(defPath, binPath, opts)
	if err != nil {
		if opts.Journal != nil {
			_ = opts.Journal.Close()
		}
		return nil, nil, err
	}
	if rep != nil && !rep.OK() {
		pterm.Warning.Printf("%d definition item(s) skipped, run info for details\n", len(rep.Errors))
	}
	if n := len(s.Resolution().Errors); n > 0 {
		pterm.Warning.Printf("%d item(s) do not fit the image, run info for details\n", n)
	}
	return s, rep, nil
}

// withSession opens the session for the duration of fn.
func withSession(fn func(s *tune.Session) error) error {
	s, _, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

// save writes the session to out, or back to the bin when out is empty.
func save(s *tune.Session, out string) error {
	if out == "" {
		out = binPath
	}
	results, err := s.Save(out)
	for _, r := range results {
		pterm.Info.Println(r.String())
	}
	if err != nil {
		return err
	}
	pterm.Success.Printf("Saved %s\n", out)
	return nil
}

func renderOptions() renderer.Options {
	return renderer.Options{Style: style, Mode: cfg.Display}
}
