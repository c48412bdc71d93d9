// Package main provides the mindstore CLI entry point.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/orneryd/mindstore/pkg/config"
	"github.com/orneryd/mindstore/pkg/emotion"
	"github.com/orneryd/mindstore/pkg/storage"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app carries the resolved configuration between cobra hooks and commands.
type app struct {
	configPath string
	root       string
	logLevel   string

	cfg   *config.Config
	log   *zap.Logger
	vocab *emotion.Static
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "mindstore",
		Short: "mindstore - a file-backed graph of weighted associations",
		Long: `mindstore keeps neurons, categories and weighted pathways as plain
record files under a storage root.

Every neuron is one .nrn file inside its category's directory, every
pathway one .tlink file. Moving a neuron carries the pathways that
point at it along. Destroying one leaves pathways of other neurons
pointing at the old spot; run "mindstore repair" to sweep them away.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&a.root, "root", "", "Storage root (overrides MINDSTORE_ROOT)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mindstore v%s (%s)\n", version, commit)
		},
	})

	rootCmd.AddCommand(
		a.initCmd(),
		a.repairCmd(),
		a.categoryCmd(),
		a.neuronCmd(),
		a.pathwayCmd(),
		a.emotionsCmd(),
	)
	return rootCmd
}

// setup resolves configuration: defaults, then the config file, then the
// environment, then command-line flags.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.root != "" {
		cfg.Storage.Root = a.root
	}
	if a.logLevel != "" {
		cfg.Logging.Level = strings.ToLower(a.logLevel)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	vocab, err := cfg.Vocabulary()
	if err != nil {
		return fmt.Errorf("loading emotion vocabulary: %w", err)
	}

	a.cfg, a.log, a.vocab = cfg, log, vocab
	return nil
}

// withStore opens the configured store for the duration of fn.
func (a *app) withStore(fn func(s *storage.Store) error) error {
	s, err := storage.Open(a.cfg.Storage.Root, storage.Options{
		Logger:         a.log,
		Vocabulary:     a.vocab,
		DisableJournal: !a.cfg.Storage.JournalEnabled,
		SyncWrites:     a.cfg.Storage.SyncWrites,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			a.log.Warn("closing store", zap.Error(cerr))
		}
	}()
	return fn(s)
}

func (a *app) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a storage root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root := a.cfg.Storage.Root
			if err := os.MkdirAll(root, 0755); err != nil {
				return fmt.Errorf("creating %s: %w", root, err)
			}
			if err := storage.Init(root, a.cfg.Storage.InitialID); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "📂 Initialized storage root %s\n", root)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Next steps:")
			fmt.Fprintln(out, "  1. Create a category:  mindstore category create animals --root", root)
			fmt.Fprintln(out, "  2. Create a neuron:    mindstore neuron create --label dog --category animals --root", root)
			return nil
		},
	}
}

func (a *app) repairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Remove broken pathways and fix category membership",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			verbose, _ := cmd.Flags().GetBool("verbose")
			return a.withStore(func(s *storage.Store) error {
				report, err := s.ScanAndRepair()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "🔧 Scanned %d pathways, applied %d fixes\n", report.EdgesScanned, report.Repaired())
				sections := []struct {
					title string
					items []string
				}{
					{"Replayed intents", report.ReplayedIntents},
					{"Broken pathways removed", report.BrokenEdges},
					{"Dangling references dropped", report.DanglingRefs},
					{"Orphan pathways removed", report.OrphanEdges},
					{"Stale category entries removed", report.StaleChildren},
					{"Neurons re-registered", report.Reregistered},
					{"Unreadable records skipped", report.Unreadable},
				}
				for _, sec := range sections {
					if len(sec.items) == 0 {
						continue
					}
					fmt.Fprintf(out, "  %s: %d\n", sec.title, len(sec.items))
					if verbose {
						for _, item := range sec.items {
							fmt.Fprintf(out, "    %s\n", item)
						}
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolP("verbose", "v", false, "List every affected record")
	return cmd
}
