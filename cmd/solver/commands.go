package main

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"OminisNode/internal/agent"
	"OminisNode/internal/chain"
	"OminisNode/internal/commitment"
	"OminisNode/internal/commitreveal"
	"OminisNode/internal/config"
	"OminisNode/internal/logger"
	"OminisNode/internal/node"
	"OminisNode/internal/problems"

	"github.com/spf13/cobra"
)

const flagConfig = "config"

// NewRootCmd returns the solver command tree: the long-running agent plus
// one-shot commands for operating a single order by hand.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "solver",
		Short:         "Ominis solver agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String(flagConfig, "", "path to the YAML config (defaults to CONFIG_PATH or configs/config.yaml)")

	root.AddCommand(
		CmdRun(),
		CmdHash(),
		CmdAccept(),
		CmdCommit(),
		CmdReveal(),
		CmdSubmit(),
	)
	return root
}

// CmdRun starts the agent.
func CmdRun() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Watch for open and assigned orders and solve them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, true)
			if err != nil {
				return err
			}
			log := logger.New("solver")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			evm, err := node.DialSigner(ctx, cfg)
			if err != nil {
				return fmt.Errorf("rpc dial: %w", err)
			}
			defer evm.Close()

			ledger := chain.NewContracts(evm)
			types, _ := cfg.ProblemTypes()

			a := agent.New(
				ledger,
				node.Model(cfg, log),
				problems.New(cfg.Problems.URL, config.Seconds(cfg.LLM.TimeoutSeconds)),
				node.Coordinator(cfg, ledger, log),
				log.With("component", "agent"),
			)
			a.Types = types
			a.AutoAccept = cfg.AutoAccept()
			if cfg.Solver.MaxConcurrent > 0 {
				a.MaxConcurrent = cfg.Solver.MaxConcurrent
			}
			if cfg.Solver.MinTimeRemainingSeconds > 0 {
				a.MinTimeRemaining = config.Seconds(cfg.Solver.MinTimeRemainingSeconds)
			}
			if cfg.Solver.IntervalSeconds > 0 {
				a.Interval = config.Seconds(cfg.Solver.IntervalSeconds)
			}
			if cfg.Solver.SequenceTimeoutSeconds > 0 {
				a.SequenceTimeout = config.Seconds(cfg.Solver.SequenceTimeoutSeconds)
			}

			watcher, release := node.Watcher(ctx, cfg, evm, []chain.EventKind{chain.EventOrderAssignedToBot}, log)
			defer release()
			a.Watcher = watcher

			stopMetrics := node.StartMetrics(cfg, log)
			defer stopMetrics()

			a.Run(ctx)
			return nil
		},
	}
}

// CmdHash prints the commitment for a solution without touching the ledger.
func CmdHash() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hash [solution]",
		Short: "Compute the commitment hash of a solution",
		Long: `Compute keccak256(solution || salt). A fresh salt is generated unless
--salt is given; keep the printed salt, it is required to reveal.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			salt, err := saltFlag(cmd, true)
			if err != nil {
				return err
			}
			hash := commitment.Digest(args[0], salt)
			cmd.Printf("hash: %s\nsalt: %s\n", hash.Hex(), salt.Hex())
			return nil
		},
	}
	cmd.Flags().String("salt", "", "hex salt (32 bytes); generated when empty")
	return cmd
}

func CmdAccept() *cobra.Command {
	return &cobra.Command{
		Use:   "accept [order-id]",
		Short: "Accept an open order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseOrderID(args[0])
			if err != nil {
				return err
			}
			return withLedger(cmd, func(ctx context.Context, c *commitreveal.Coordinator) error {
				rcpt, err := c.Ledger.AcceptOrder(ctx, id)
				if err != nil {
					return err
				}
				cmd.Printf("accepted order %d in tx %s\n", id, rcpt.TxHash)
				return nil
			})
		},
	}
}

// CmdCommit publishes a commitment and prints the salt needed for the reveal.
func CmdCommit() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commit [order-id] [solution]",
		Short: "Commit the hash of a solution for an accepted order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseOrderID(args[0])
			if err != nil {
				return err
			}
			salt, err := saltFlag(cmd, true)
			if err != nil {
				return err
			}
			// printed first so the salt survives a failed confirmation
			cmd.Printf("salt: %s\n", salt.Hex())
			return withLedger(cmd, func(ctx context.Context, c *commitreveal.Coordinator) error {
				rcpt, err := c.Commit(ctx, id, args[1], salt)
				if err != nil {
					return err
				}
				cmd.Printf("committed %s in tx %s\n", commitment.Digest(args[1], salt).Hex(), rcpt.TxHash)
				return nil
			})
		},
	}
	cmd.Flags().String("salt", "", "hex salt (32 bytes); generated when empty")
	return cmd
}

func CmdReveal() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reveal [order-id] [solution] --salt [hex]",
		Short: "Reveal a committed solution",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseOrderID(args[0])
			if err != nil {
				return err
			}
			salt, err := saltFlag(cmd, false)
			if err != nil {
				return err
			}
			return withLedger(cmd, func(ctx context.Context, c *commitreveal.Coordinator) error {
				rcpt, err := c.Reveal(ctx, id, args[1], salt)
				if err != nil {
					return err
				}
				cmd.Printf("revealed order %d in tx %s\n", id, rcpt.TxHash)
				return nil
			})
		},
	}
	cmd.Flags().String("salt", "", "hex salt printed by commit")
	_ = cmd.MarkFlagRequired("salt")
	return cmd
}

// CmdSubmit runs commit, settle and reveal with a fresh salt.
func CmdSubmit() *cobra.Command {
	return &cobra.Command{
		Use:   "submit [order-id] [solution]",
		Short: "Commit and reveal a solution in one go",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseOrderID(args[0])
			if err != nil {
				return err
			}
			return withLedger(cmd, func(ctx context.Context, c *commitreveal.Coordinator) error {
				res, err := c.Submit(ctx, id, args[1])
				if res != nil {
					cmd.Printf("salt: %s\nhash: %s\n", res.Salt.Hex(), res.CommitHash.Hex())
				}
				if err != nil {
					return err
				}
				cmd.Printf("commit tx %s\nreveal tx %s\n", res.Commit.TxHash, res.Reveal.TxHash)
				return nil
			})
		},
	}
}

func loadConfig(cmd *cobra.Command, full bool) (*config.Config, error) {
	path, _ := cmd.Flags().GetString(flagConfig)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if full {
		if err := cfg.ValidateSolver(); err != nil {
			return nil, err
		}
	} else if cfg.Chain.OrderBookAddress == "" {
		return nil, fmt.Errorf("chain.order_book_address is required")
	}
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	return cfg, nil
}

// withLedger dials the signer and hands fn a coordinator for one-shot commands.
func withLedger(cmd *cobra.Command, fn func(ctx context.Context, c *commitreveal.Coordinator) error) error {
	cfg, err := loadConfig(cmd, false)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	evm, err := node.DialSigner(ctx, cfg)
	if err != nil {
		return fmt.Errorf("rpc dial: %w", err)
	}
	defer evm.Close()
	return fn(ctx, node.Coordinator(cfg, chain.NewContracts(evm), logger.New("solver")))
}

func parseOrderID(v string) (uint64, error) {
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid order id %q: %w", v, err)
	}
	return id, nil
}

func saltFlag(cmd *cobra.Command, generate bool) (commitment.Salt, error) {
	raw, _ := cmd.Flags().GetString("salt")
	if raw == "" {
		if !generate {
			return commitment.Salt{}, fmt.Errorf("--salt is required")
		}
		return commitment.NewSalt()
	}
	salt, err := commitment.ParseSalt(raw)
	if err != nil {
		return commitment.Salt{}, fmt.Errorf("invalid salt: %w", err)
	}
	return salt, nil
}
