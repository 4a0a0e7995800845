package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/product-scout/internal/model"
)

var (
	projectName        string
	projectTarget      string
	projectDescription string
	projectCategory    string
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage discovery projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a project that discovery runs import into",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, "trust")
		if err != nil {
			return err
		}
		defer env.Close()

		p := &model.Project{
			Name:              projectName,
			TargetProductName: projectTarget,
			Description:       projectDescription,
			TargetCategory:    projectCategory,
		}
		if err := env.Store.CreateProject(ctx, p); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), p)
	},
}

var projectShowCmd = &cobra.Command{
	Use:   "show <project-id>",
	Short: "Print a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, "trust")
		if err != nil {
			return err
		}
		defer env.Close()

		p, err := env.Store.GetProject(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), p)
	},
}

func init() {
	projectCreateCmd.Flags().StringVar(&projectName, "name", "", "project name (required)")
	projectCreateCmd.Flags().StringVar(&projectTarget, "target", "", "target product name (required)")
	projectCreateCmd.Flags().StringVar(&projectDescription, "description", "", "project description")
	projectCreateCmd.Flags().StringVar(&projectCategory, "category", "", "target product category")
	_ = projectCreateCmd.MarkFlagRequired("name")
	_ = projectCreateCmd.MarkFlagRequired("target")

	projectCmd.AddCommand(projectCreateCmd, projectShowCmd)
	rootCmd.AddCommand(projectCmd)
}
