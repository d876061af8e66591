package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"rectipano/internal/config"
)

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
		Long:  "Show, create or validate the rectipano configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration (%s):\n\n", root.cfgPath)
			fmt.Fprintf(out, "Parallel Jobs: %d\n", cfg.Processing.ParallelJobs)
			fmt.Fprintf(out, "Frame Workers: %d\n", cfg.Processing.FrameWorkers)
			fmt.Fprintf(out, "Database: %s (%s)\n", cfg.Paths.DatabasePath, cfg.Storage.Driver)
			fmt.Fprintf(out, "Default Output: %s\n", cfg.Paths.DefaultOutput)
			fmt.Fprintf(out, "Log Level: %s\n", cfg.Logging.Level)
			fmt.Fprintf(out, "Log Format: %s\n", cfg.Logging.Format)
			fmt.Fprintf(out, "\nGeometry:\n")
			fmt.Fprintf(out, "  Bend Factor: %.2f\n", cfg.Geometry.BendFactor)
			fmt.Fprintf(out, "  Vertical Shift: %.2f\n", cfg.Geometry.VerticalShiftRatio)
			fmt.Fprintf(out, "  Margin Ratio: %.2f\n", cfg.Geometry.MarginRatio)
			fmt.Fprintf(out, "  Feather Width: %d\n", cfg.Geometry.FeatherWidth)
			fmt.Fprintf(out, "  Blend Width: %d\n", cfg.Geometry.BlendWidth)
			fmt.Fprintf(out, "  Strict Geometry: %t\n", cfg.Geometry.StrictGeometry)
			fmt.Fprintf(out, "\nOutput:\n")
			fmt.Fprintf(out, "  JPEG Quality: %d\n", cfg.Output.JPEGQuality)
			fmt.Fprintf(out, "  Session File: %s\n", cfg.Output.SessionFile)
			fmt.Fprintf(out, "  Points File: %s\n", cfg.Output.PointsFile)
			fmt.Fprintf(out, "\nBackend: warp=%s smoother=%s\n", cfg.Backend.Warp, cfg.Backend.Smoother)
			fmt.Fprintf(out, "Server: http=%s grpc=%s\n", cfg.Server.HTTPAddr, cfg.Server.GRPCAddr)
			return nil
		},
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the current configuration to the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if err := config.Save(root.cfgPath, root.cfg); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Fprintf(out, "Wrote %s\n", root.cfgPath)
			return nil
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.cfg.Validate(); err != nil {
				root.log.Error("configuration validation", "status", "invalid", "error", err)
				return err
			}
			root.log.Info("configuration validation", "status", "valid")
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Configuration is valid")
			return nil
		},
	}

	cmd.AddCommand(showCmd, initCmd, validateCmd)
	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "rectipano v%s\n", Version)
			fmt.Fprintf(out, "Built with Go %s\n", runtime.Version())
			fmt.Fprintf(out, "Warp backend: %s, smoother: %s\n", root.cfg.Backend.Warp, root.cfg.Backend.Smoother)
		},
	}
}
