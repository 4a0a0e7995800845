package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/product-scout/internal/model"
)

var (
	analyzeLimit int
	analyzeFile  string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Collect, ingest, and classify product reviews",
}

var analyzeCollectCmd = &cobra.Command{
	Use:   "collect <product-id>",
	Short: "Pull reviews from the product's marketplace page",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, "analyze")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Analyzer.CollectReviews(ctx, args[0], analyzeLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{"product_id": args[0], "collected": n})
	},
}

var analyzeIngestCmd = &cobra.Command{
	Use:   "ingest <product-id>",
	Short: "Store reviews from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		reviews, err := readReviews(analyzeFile)
		if err != nil {
			return err
		}

		env, err := initApp(ctx, "analyze")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Analyzer.IngestReviews(ctx, args[0], reviews)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{"product_id": args[0], "ingested": n})
	},
}

var analyzeRunCmd = &cobra.Command{
	Use:   "run <product-id>",
	Short: "Classify pending reviews and refresh the trust score",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, "analyze")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Analyzer.AnalyzeProduct(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

// readReviews accepts either a bare JSON array or {"reviews": [...]}.
func readReviews(path string) ([]model.Review, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read reviews file %s", path)
	}
	var reviews []model.Review
	if err := json.Unmarshal(data, &reviews); err == nil {
		return reviews, nil
	}
	var wrapped struct {
		Reviews []model.Review `json:"reviews"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, eris.Wrapf(err, "parse reviews file %s", path)
	}
	return wrapped.Reviews, nil
}

func init() {
	analyzeCollectCmd.Flags().IntVar(&analyzeLimit, "limit", 100, "maximum reviews to collect")
	analyzeIngestCmd.Flags().StringVar(&analyzeFile, "file", "", "path to a JSON file of reviews (required)")
	_ = analyzeIngestCmd.MarkFlagRequired("file")

	analyzeCmd.AddCommand(analyzeCollectCmd, analyzeIngestCmd, analyzeRunCmd)
	rootCmd.AddCommand(analyzeCmd)
}
