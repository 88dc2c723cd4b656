package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/tosih/xdftune/pkg/binimage"
	"github.com/tosih/xdftune/pkg/compare"
	"github.com/tosih/xdftune/pkg/editor"
	"github.com/tosih/xdftune/pkg/export"
	"github.com/tosih/xdftune/pkg/journal"
	"github.com/tosih/xdftune/pkg/renderer"
	"github.com/tosih/xdftune/pkg/scanner"
	"github.com/tosih/xdftune/pkg/tune"
	"github.com/tosih/xdftune/pkg/xdf"
)

var (
	outPath    string
	axisName   string
	tableKey   string
	showAll    bool
	applySums  bool
	dryRun     bool
	jSession   string
	jItem      string
	jKind      string
	jSince     time.Duration
	jPath      string
	scanStep   int
	scanMapped bool
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Summarise the definition and report items that could not be used",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, rep, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()
		renderer.RenderInfo(s, rep)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every table, constant and flag by category",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *tune.Session) error {
			renderer.ListItems(s)
			return nil
		})
	},
}

var showCmd = &cobra.Command{
	Use:   "show [item|all]",
	Short: "Display tables, or all constants and flags",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := "all"
		if len(args) == 1 {
			filter = args[0]
		}
		return withSession(func(s *tune.Session) error {
			if it, err := s.Find(filter); err == nil {
				return showItem(s, it)
			}
			shown := 0
			for _, it := range s.Items() {
				if it.Kind() != xdf.KindTable {
					continue
				}
				if filter != "all" && !strings.Contains(strings.ToLower(it.Meta().Title), strings.ToLower(filter)) {
					continue
				}
				if shown > 0 {
					pterm.Println()
				}
				shown++
				if err := showItem(s, it); err != nil {
					pterm.Error.Printf("Error reading %s: %v\n", it.Meta().Title, err)
				}
			}
			if filter == "all" {
				pterm.Println()
				renderer.RenderScalars(s, cfg.Display)
			} else if shown == 0 {
				return fmt.Errorf("no table matches %q", filter)
			}
			return nil
		})
	},
}

func showItem(s *tune.Session, it xdf.Item) error {
	if it.Kind() != xdf.KindTable {
		v, err := s.Read(it.Meta().ID)
		if err != nil {
			return err
		}
		pterm.Info.Printf("%s (%s): %s\n", it.Meta().Title, it.Meta().ID, v)
		return nil
	}
	g, err := s.ReadTable(it.Meta().ID)
	if err != nil {
		return err
	}
	if d := it.Meta().Description; d != "" {
		pterm.Info.Println(d)
	}
	renderer.RenderTable(g, renderOptions())
	return nil
}

var getCmd = &cobra.Command{
	Use:   "get <item> [row col]",
	Short: "Print one constant, flag or table cell",
	Args:  cobra.RangeArgs(1, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *tune.Session) error {
			if len(args) == 1 {
				v, err := s.Read(args[0])
				if err != nil {
					return err
				}
				fmt.Println(v.String())
				return nil
			}
			if len(args) != 3 {
				return fmt.Errorf("a cell needs both row and col")
			}
			row, col, err := editor.ParseCell(args[1] + "," + args[2])
			if err != nil {
				return err
			}
			v, err := s.ReadCell(args[0], row, col)
			if err != nil {
				return err
			}
			fmt.Println(strconv.FormatFloat(v, 'f', -1, 64))
			return nil
		})
	},
}

var setCmd = &cobra.Command{
	Use:   "set <item> <value> | set <table> <row> <col> <value> | set <table> --axis x <v1,v2,...>",
	Short: "Write a value in physical units and save",
	Args:  cobra.RangeArgs(2, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *tune.Session) error {
			var err error
			switch {
			case axisName != "":
				var values []float64
				if values, err = parseList(args[1]); err != nil {
					return err
				}
				err = s.WriteAxis(args[0], axisName, values)
			case len(args) == 2:
				var v float64
				if v, err = strconv.ParseFloat(args[1], 64); err != nil {
					return fmt.Errorf("invalid number %q", args[1])
				}
				err = s.Write(args[0], v)
			case len(args) == 4:
				row, col, perr := editor.ParseCell(args[1] + "," + args[2])
				if perr != nil {
					return perr
				}
				v, perr := strconv.ParseFloat(args[3], 64)
				if perr != nil {
					return fmt.Errorf("invalid number %q", args[3])
				}
				err = s.WriteCell(args[0], row, col, v)
			default:
				return fmt.Errorf("a cell needs row, col and value")
			}
			if err != nil {
				return err
			}
			if dryRun {
				pterm.Warning.Println("DRY RUN - No changes saved")
				return nil
			}
			return save(s, outPath)
		})
	},
}

func parseList(s string) ([]float64, error) {
	var out []float64
	for _, f := range strings.Split(s, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", f)
		}
		out = append(out, v)
	}
	return out, nil
}

var flagCmd = &cobra.Command{
	Use:   "flag <item> <state>",
	Short: "Set a flag by state name or number and save",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *tune.Session) error {
			if err := s.SetFlag(args[0], args[1]); err != nil {
				return err
			}
			if dryRun {
				pterm.Warning.Println("DRY RUN - No changes saved")
				return nil
			}
			return save(s, outPath)
		})
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <dir> [filter]",
	Short: "Export tables to CSV files",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := "all"
		if len(args) == 2 {
			filter = args[1]
		}
		return withSession(func(s *tune.Session) error {
			_, err := export.ExportTables(s, args[0], filter)
			return err
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import <csv>",
	Short: "Load a table from a CSV export and save",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *tune.Session) error {
			pterm.Info.Printf("Importing table from %s\n", args[0])
			id, err := export.ImportFile(s, args[0], tableKey)
			if err != nil {
				return err
			}
			if !s.Dirty() {
				pterm.Info.Printf("%s unchanged\n", id)
				return nil
			}
			pterm.Success.Printf("Imported %s\n", id)
			if dryRun {
				pterm.Warning.Println("DRY RUN - No changes saved")
				return nil
			}
			return save(s, outPath)
		})
	},
}

var compareCmd = &cobra.Command{
	Use:   "compare <other.bin> [filter]",
	Short: "Diff the bin against another image using the same definition",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if defPath == "" || binPath == "" {
			return fmt.Errorf("both --xdf and --bin are required")
		}
		def, _, err := xdf.ParseFile(defPath)
		if err != nil {
			return err
		}
		opts, err := cfg.SessionOptions(logger)
		if err != nil {
			return err
		}
		// compare never writes
		if opts.Journal != nil {
			_ = opts.Journal.Close()
			opts.Journal = nil
		}
		a, b, err := compare.Load(context.Background(), def, binPath, args[0], opts)
		if err != nil {
			return err
		}
		defer a.Close()
		defer b.Close()

		filter := "all"
		if len(args) == 2 {
			filter = args[1]
		}
		compare.Display(compare.Compare(a, b, filter), showAll)
		return nil
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Look for table-like data the definition does not describe",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *tune.Session) error {
			opts := scanner.Options{Step: scanStep}
			skipped := 0
			if !scanMapped {
				opts.Skip = s.Layout().Covered()
				for _, sp := range opts.Skip {
					skipped += sp[1] - sp[0]
				}
			}
			spinner, _ := pterm.DefaultSpinner.Start("Scanning image for map locations...")
			results := scanner.Scan(binimage.New(s.Snapshot()), opts)
			spinner.Success(fmt.Sprintf("Scan finished: %d candidate(s)", len(results)))
			scanner.Display(results, s.Len(), skipped)
			return nil
		})
	},
}

var checksumCmd = &cobra.Command{
	Use:   "checksum",
	Short: "Verify declared checksums, or update them with --apply",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *tune.Session) error {
			if len(s.Definition().Checksums) == 0 {
				pterm.Info.Println("The definition declares no checksums")
				return nil
			}
			verify := s.VerifyChecksums
			if applySums {
				verify = s.ApplyChecksums
			}
			results, err := verify()
			bad := 0
			for _, r := range results {
				if r.OK() {
					pterm.Success.Println(r.String())
				} else {
					bad++
					pterm.Warning.Println(r.String())
				}
			}
			if err != nil {
				return err
			}
			if applySums && s.Dirty() && !dryRun {
				return save(s, outPath)
			}
			if bad > 0 {
				return fmt.Errorf("%d checksum(s) do not match", bad)
			}
			return nil
		})
	},
}

var editCmd = &cobra.Command{
	Use:   "edit",
	Short: "Interactive edit mode",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *tune.Session) error {
			out := outPath
			if out == "" {
				out = binPath
			}
			return editor.New(s, out, dryRun).Run()
		})
	},
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "List recorded edits",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := jPath
		if path == "" {
			path = cfg.JournalPath
		}
		if path == "" {
			return fmt.Errorf("no journal file, set journal_path or --file")
		}
		filter := journal.Filter{Session: jSession, ItemID: jItem}
		if jKind != "" {
			k, err := journal.ParseKind(jKind)
			if err != nil {
				return err
			}
			filter.Kind = k
		}
		if jSince > 0 {
			filter.Since = time.Now().Add(-jSince)
		}
		entries, err := journal.ReadAll(path, filter)
		if os.IsNotExist(err) {
			pterm.Info.Println("Journal is empty")
			return nil
		}
		for _, e := range entries {
			fmt.Println(e.String())
		}
		return err
	},
}

func init() {
	for _, c := range []*cobra.Command{setCmd, flagCmd, importCmd, checksumCmd, editCmd} {
		c.Flags().StringVarP(&outPath, "out", "o", "", "write to this file instead of the bin")
		c.Flags().BoolVar(&dryRun, "dry-run", false, "do not save")
	}
	setCmd.Flags().StringVar(&axisName, "axis", "", "write breakpoints of axis x or y")
	importCmd.Flags().StringVar(&tableKey, "table", "", "target table, overriding the ID in the file")
	compareCmd.Flags().BoolVar(&showAll, "all", false, "also show unchanged tables")
	checksumCmd.Flags().BoolVar(&applySums, "apply", false, "store recomputed checksums and save")
	scanCmd.Flags().IntVar(&scanStep, "step", 0x40, "offset increment")
	scanCmd.Flags().BoolVar(&scanMapped, "include-mapped", false, "also scan regions the definition covers")

	jf := journalCmd.Flags()
	jf.StringVar(&jPath, "file", "", "journal file, defaults to journal_path")
	jf.StringVar(&jSession, "session", "", "only this session")
	jf.StringVar(&jItem, "item", "", "only this item ID")
	jf.StringVar(&jKind, "kind", "", "only write, checksum, save or replace entries")
	jf.DurationVar(&jSince, "since", 0, "only entries newer than this")
}
