// Command optimize generates portfolio derivatives from the command line.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"photoassets/internal/derivative"
	"photoassets/internal/logger"
	"photoassets/internal/models"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	assets     string
	force      bool
	cleanup    bool
	single     string
}

func newRootCmd(out io.Writer) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Generate resized derivatives for every image in the asset root",
		Long: `optimize writes the thumbnail, small, medium and large renditions of the
images in the asset root and records the run in optimization_report.json.

Examples:
  optimize                      # generate missing derivatives
  optimize --force              # regenerate everything
  optimize --single sunset.jpg  # one image
  optimize --cleanup            # delete derivatives of removed images`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(out, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "YAML config file (defaults and environment when empty)")
	f.StringVar(&opts.assets, "assets", "", "asset root, overrides assets_path")
	f.BoolVar(&opts.force, "force", false, "rewrite derivatives that already exist")
	f.BoolVar(&opts.cleanup, "cleanup", false, "remove derivatives whose source image is gone")
	f.StringVar(&opts.single, "single", "", "process one image by filename")
	cmd.MarkFlagsMutuallyExclusive("cleanup", "single")
	cmd.MarkFlagsMutuallyExclusive("cleanup", "force")

	return cmd
}

func run(out io.Writer, opts options) error {
	cfg, err := models.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.assets != "" {
		cfg.AssetsPath = opts.assets
	}
	log := logger.New(cfg, "optimize")

	catalog, err := derivative.CatalogFromConfig(cfg)
	if err != nil {
		return err
	}
	gen := derivative.New(cfg.AssetsPath, catalog,
		derivative.WithPublicPrefix(cfg.PublicPrefix),
		derivative.WithAutoOrient(cfg.AutoOrient),
		derivative.WithLogger(log),
	)

	switch {
	case opts.cleanup:
		removed, err := gen.CleanupOrphans()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Removed %d orphaned derivatives\n", removed)
		return nil

	case opts.single != "":
		result, err := gen.Generate(opts.single, opts.force)
		if result != nil {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(result); encErr != nil {
				return errors.Join(err, encErr)
			}
		}
		return err

	default:
		report, err := gen.GenerateAll(opts.force)
		if report != nil {
			printSummary(out, report)
		}
		return err
	}
}

func printSummary(out io.Writer, r *models.OptimizationReport) {
	const mb = 1024 * 1024

	fmt.Fprintf(out, "Images:     %d\n", r.TotalImages)
	fmt.Fprintf(out, "Successful: %d\n", r.Successful)
	fmt.Fprintf(out, "Errors:     %d\n", r.Errors)
	fmt.Fprintf(out, "Original:   %.2f MB\n", float64(r.TotalOriginalSize)/mb)
	fmt.Fprintf(out, "Optimized:  %.2f MB\n", float64(r.TotalOptimizedSize)/mb)
	for name, msg := range r.Failures {
		fmt.Fprintf(out, "  failed %s: %s\n", name, msg)
	}
}
