package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/product-scout/internal/store"
)

var (
	trustAsync    bool
	trustProject  string
	trustMinScore float64
	trustMaxScore float64
	trustLimit    int
	trustOffset   int
)

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Inspect and recompute product trust scores",
}

var trustGetCmd = &cobra.Command{
	Use:   "get <product-id>",
	Short: "Print the stored trust score of a product",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, "trust")
		if err != nil {
			return err
		}
		defer env.Close()

		rec, err := env.Trust.Get(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), rec)
	},
}

var trustRecomputeCmd = &cobra.Command{
	Use:   "recompute <product-id>",
	Short: "Recompute a product's trust score from its reviews",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, "trust")
		if err != nil {
			return err
		}
		defer env.Close()

		if trustAsync {
			if _, err := env.Store.GetProduct(ctx, args[0]); err != nil {
				return err
			}
			if err := env.Dispatcher.Dispatch(ctx, args[0]); err != nil {
				return err
			}
			zap.L().Info("trust: recompute dispatched", zap.String("product_id", args[0]))
			return printJSON(cmd.OutOrStdout(), map[string]string{"status": "accepted", "product_id": args[0]})
		}

		rec, err := env.Trust.Recompute(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), rec)
	},
}

var trustRecomputeProjectCmd = &cobra.Command{
	Use:   "recompute-project <project-id>",
	Short: "Recompute the trust score of every product in a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, "trust")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Trust.RecomputeProject(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var trustTopCmd = &cobra.Command{
	Use:   "top",
	Short: "List a project's products ordered by trust score",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, "trust")
		if err != nil {
			return err
		}
		defer env.Close()

		products, err := env.Trust.ListByScore(ctx, topFilter(cmd))
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), products)
	},
}

// topFilter only sets score bounds whose flags were given.
func topFilter(cmd *cobra.Command) store.ProductFilter {
	f := store.ProductFilter{
		ProjectID: trustProject,
		Limit:     trustLimit,
		Offset:    trustOffset,
	}
	if cmd.Flags().Changed("min") {
		f.MinScore = &trustMinScore
	}
	if cmd.Flags().Changed("max") {
		f.MaxScore = &trustMaxScore
	}
	return f
}

func init() {
	trustRecomputeCmd.Flags().BoolVar(&trustAsync, "async", false, "dispatch the recompute instead of waiting for it")

	trustTopCmd.Flags().StringVar(&trustProject, "project", "", "project ID (required)")
	trustTopCmd.Flags().Float64Var(&trustMinScore, "min", 0, "minimum trust score")
	trustTopCmd.Flags().Float64Var(&trustMaxScore, "max", 100, "maximum trust score")
	trustTopCmd.Flags().IntVar(&trustLimit, "limit", 20, "maximum products to list")
	trustTopCmd.Flags().IntVar(&trustOffset, "offset", 0, "products to skip")
	_ = trustTopCmd.MarkFlagRequired("project")

	trustCmd.AddCommand(trustGetCmd, trustRecomputeCmd, trustRecomputeProjectCmd, trustTopCmd)
	rootCmd.AddCommand(trustCmd)
}
