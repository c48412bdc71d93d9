package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/orneryd/mindstore/pkg/storage"
)

// Neurons are named on the command line either by storage path
// ("neurons/animals/dog.nrn") or by category and name ("animals/dog", or
// just "dog" at the root).
func lookupNeuron(s *storage.Store, ref string) (*storage.Neuron, error) {
	if strings.HasSuffix(ref, storage.NeuronExt) {
		return s.Neuron(ref)
	}
	catName, name := "", ref
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		catName, name = ref[:i], ref[i+1:]
	}
	cat, err := lookupCategory(s, catName)
	if err != nil {
		return nil, err
	}
	return s.NeuronAt(cat, name)
}

// lookupCategory resolves a full category name; "" and "/" mean the root.
func lookupCategory(s *storage.Store, fullName string) (*storage.Category, error) {
	if strings.Trim(fullName, "/") == "" {
		return nil, nil
	}
	return s.Category(fullName)
}

func printNeuron(out io.Writer, n *storage.Neuron) {
	fmt.Fprintln(out, n.Path())
}

func (a *app) categoryCmd() *cobra.Command {
	categoryCmd := &cobra.Command{
		Use:   "category",
		Short: "Category operations",
	}

	categoryCmd.AddCommand(&cobra.Command{
		Use:   "create <full-name>",
		Short: "Create a category and any missing parents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(s *storage.Store) error {
				c, err := s.EnsureCategory(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), c.Path())
				return nil
			})
		},
	})

	lsCmd := &cobra.Command{
		Use:   "ls [full-name]",
		Short: "List the neurons filed under a category",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recursive, _ := cmd.Flags().GetBool("recursive")
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return a.withStore(func(s *storage.Store) error {
				c, err := lookupCategory(s, name)
				if err != nil {
					return err
				}
				for n, err := range s.ListDescendantNeurons(c, recursive) {
					if err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "⚠️  %v\n", err)
						continue
					}
					printNeuron(cmd.OutOrStdout(), n)
				}
				return nil
			})
		},
	}
	lsCmd.Flags().BoolP("recursive", "r", false, "Include sub-categories")
	categoryCmd.AddCommand(lsCmd)

	return categoryCmd
}

func (a *app) neuronCmd() *cobra.Command {
	neuronCmd := &cobra.Command{
		Use:   "neuron",
		Short: "Neuron operations",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a neuron",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			label, _ := cmd.Flags().GetString("label")
			category, _ := cmd.Flags().GetString("category")
			emotionName, _ := cmd.Flags().GetString("emotion")
			link, _ := cmd.Flags().GetString("link")

			return a.withStore(func(s *storage.Store) error {
				opts := storage.NeuronOptions{Label: label}
				if category != "" {
					c, err := s.EnsureCategory(category)
					if err != nil {
						return err
					}
					opts.Category = c
				}
				if emotionName != "" {
					h, err := a.vocab.Lookup(emotionName)
					if err != nil {
						return err
					}
					opts.Emotion = h
				}
				if link != "" {
					target, err := lookupNeuron(s, link)
					if err != nil {
						return err
					}
					opts.Linked = target
				}

				n, err := s.CreateNeuron(opts)
				if err != nil {
					return err
				}
				printNeuron(cmd.OutOrStdout(), n)
				return nil
			})
		},
	}
	createCmd.Flags().String("label", "", "Morpheme; names the file instead of an allocated ID")
	createCmd.Flags().String("category", "", "Full category name, created if missing")
	createCmd.Flags().String("emotion", "", "Emotion tag from the vocabulary")
	createCmd.Flags().String("link", "", "Neuron receiving the first outgoing pathway")
	neuronCmd.AddCommand(createCmd)

	neuronCmd.AddCommand(&cobra.Command{
		Use:   "show <neuron>",
		Short: "Show a neuron and its outgoing pathways",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(s *storage.Store) error {
				n, err := lookupNeuron(s, args[0])
				if err != nil {
					return err
				}
				return showNeuron(cmd.OutOrStdout(), s, n)
			})
		},
	})

	neuronCmd.AddCommand(&cobra.Command{
		Use:   "link <from> <to>",
		Short: "Add a pathway between two neurons",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(s *storage.Store) error {
				src, dst, err := lookupPair(s, args[0], args[1])
				if err != nil {
					return err
				}
				pw, err := s.AddEdge(src, dst)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), pw.Path())
				return nil
			})
		},
	})

	neuronCmd.AddCommand(&cobra.Command{
		Use:   "unlink <from> <to>",
		Short: "Remove the first pathway between two neurons",
		Long: `Remove the first pathway of <from> that targets <to>. <to> may be a
storage path that no longer exists.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(s *storage.Store) error {
				src, err := lookupNeuron(s, args[0])
				if err != nil {
					return err
				}
				if strings.HasSuffix(args[1], storage.NeuronExt) {
					return s.RemoveEdgeTo(src, args[1])
				}
				dst, err := lookupNeuron(s, args[1])
				if err != nil {
					return err
				}
				return s.RemoveEdge(src, dst)
			})
		},
	})

	neuronCmd.AddCommand(&cobra.Command{
		Use:   "move <neuron> <category>",
		Short: `Relocate a neuron into another category ("/" for the root)`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(s *storage.Store) error {
				n, err := lookupNeuron(s, args[0])
				if err != nil {
					return err
				}
				c, err := lookupCategory(s, args[1])
				if err != nil {
					return err
				}
				if err := s.Relocate(n, c); err != nil {
					return err
				}
				printNeuron(cmd.OutOrStdout(), n)
				return nil
			})
		},
	})

	neuronCmd.AddCommand(&cobra.Command{
		Use:   "destroy <neuron>",
		Short: "Delete a neuron and its outgoing pathways",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(s *storage.Store) error {
				n, err := lookupNeuron(s, args[0])
				if err != nil {
					return err
				}
				return s.Destroy(n)
			})
		},
	})

	neuronCmd.AddCommand(&cobra.Command{
		Use:   "within <neuron> <category>",
		Short: "List the targets of a neuron's pathways inside a category",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(s *storage.Store) error {
				n, err := lookupNeuron(s, args[0])
				if err != nil {
					return err
				}
				c, err := lookupCategory(s, args[1])
				if err != nil {
					return err
				}
				for target, err := range s.EdgesWithin(n, c) {
					if err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "⚠️  %v\n", err)
						continue
					}
					printNeuron(cmd.OutOrStdout(), target)
				}
				return nil
			})
		},
	})

	return neuronCmd
}

// lookupPair resolves both ends of a new pathway.
func lookupPair(s *storage.Store, from, to string) (*storage.Neuron, *storage.Neuron, error) {
	src, err := lookupNeuron(s, from)
	if err != nil {
		return nil, nil, err
	}
	dst, err := lookupNeuron(s, to)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", storage.ErrNoSuchTarget, err)
	}
	return src, dst, nil
}

func showNeuron(out io.Writer, s *storage.Store, n *storage.Neuron) error {
	fmt.Fprintf(out, "Neuron:   %s\n", n.Path())
	if c := n.CategoryPath(); c != "" {
		fmt.Fprintf(out, "Category: %s\n", c)
	}
	if m, ok := n.Morpheme(); ok {
		fmt.Fprintf(out, "Morpheme: %q\n", m)
	}
	if h, ok, err := s.Emotion(n); ok {
		if err != nil {
			fmt.Fprintf(out, "Emotion:  %v\n", err)
		} else {
			fmt.Fprintf(out, "Emotion:  %s\n", h)
		}
	}

	pws, err := s.Pathways(n)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Pathways: %d\n", len(pws))
	for _, pw := range pws {
		fmt.Fprintf(out, "  %s -> %s (weight %g)\n", pw.Path(), pw.Target(), pw.Weight())
	}
	return nil
}

func (a *app) pathwayCmd() *cobra.Command {
	pathwayCmd := &cobra.Command{
		Use:   "pathway",
		Short: "Pathway operations",
	}

	pathwayCmd.AddCommand(&cobra.Command{
		Use:   "show <pathway>",
		Short: "Show a pathway and resolve its target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(s *storage.Store) error {
				pw, err := s.Pathway(args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Pathway: %s\n", pw.Path())
				fmt.Fprintf(out, "Weight:  %g\n", pw.Weight())
				if _, err := s.ResolveTarget(pw); err != nil {
					fmt.Fprintf(out, "Target:  %s (broken)\n", pw.Target())
				} else {
					fmt.Fprintf(out, "Target:  %s\n", pw.Target())
				}
				return nil
			})
		},
	})

	pathwayCmd.AddCommand(
		a.weightCmd("increase", "Strengthen a pathway", (*storage.Store).IncreaseWeight),
		a.weightCmd("decrease", "Weaken a pathway (never below one step)", (*storage.Store).DecreaseWeight),
	)
	return pathwayCmd
}

func (a *app) weightCmd(use, short string, adjust func(*storage.Store, *storage.Pathway) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <pathway>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, _ := cmd.Flags().GetInt("steps")
			if steps < 1 {
				return fmt.Errorf("--steps must be at least 1, got %d", steps)
			}
			return a.withStore(func(s *storage.Store) error {
				pw, err := s.Pathway(args[0])
				if err != nil {
					return err
				}
				for range steps {
					if err := adjust(s, pw); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %g\n", pw.Path(), pw.Weight())
				return nil
			})
		},
	}
	cmd.Flags().IntP("steps", "n", 1, "Number of weight steps")
	return cmd
}

func (a *app) emotionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "emotions",
		Short: "List the configured emotion vocabulary",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range a.vocab.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}
}
