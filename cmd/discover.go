package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/product-scout/internal/model"
)

var (
	discoverProject  string
	discoverQuery    string
	discoverMax      int
	discoverCriteria string
	discoverUser     string
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Run one discovery request and print its report",
	Long:  "Extracts intent from --query, discovers and collects marketplace listings, filters and ranks them, and imports the selection into --project.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		req := buildDiscoveryRequest()

		env, err := initApp(ctx, "discover")
		if err != nil {
			return err
		}
		defer env.Close()

		report := env.Pipeline.Run(ctx, req)

		if err := printJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
		if report.Status != model.ReportSuccess {
			return eris.Errorf("discovery %s: %s", report.ErrorType, report.Message)
		}
		return nil
	},
}

func buildDiscoveryRequest() model.DiscoveryRequest {
	req := model.DiscoveryRequest{
		ProjectID:      discoverProject,
		UserQuery:      discoverQuery,
		FilterCriteria: discoverCriteria,
		UserID:         discoverUser,
	}
	if discoverMax > 0 {
		req.MaxProducts = &discoverMax
	}
	return req
}

func init() {
	discoverCmd.Flags().StringVar(&discoverProject, "project", "", "project ID to import into (required)")
	discoverCmd.Flags().StringVar(&discoverQuery, "query", "", "natural-language search request (required)")
	discoverCmd.Flags().IntVar(&discoverMax, "max", 0, "maximum products to import (default from request or config)")
	discoverCmd.Flags().StringVar(&discoverCriteria, "criteria", "", "filter constraints in plain language")
	discoverCmd.Flags().StringVar(&discoverUser, "user", "", "user ID recorded on imported products")
	_ = discoverCmd.MarkFlagRequired("project")
	_ = discoverCmd.MarkFlagRequired("query")
	rootCmd.AddCommand(discoverCmd)
}
