package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cloudforge/internal/config"
	"cloudforge/internal/logging"
	"cloudforge/internal/provider"
	"cloudforge/internal/provision"
	"cloudforge/internal/session"
)

var (
	cleanKeepLogs  bool
	cleanLocalOnly bool
	cleanCloudOnly bool
)

// cleanCmd represents the clean command
var cleanCmd = &cobra.Command{
	Use:   "clean <session-id>",
	Short: "Tear down a session's cloud resources",
	Long: `Re-read a session's snapshot files, delete every cloud resource
they record and remove the local session directory. Already-deleted
resources are skipped, so clean can be re-run safely.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runClean(args[0])
	},
}

func init() {
	rootCmd.AddCommand(cleanCmd)

	cleanCmd.Flags().BoolVar(&cleanKeepLogs, "keep-logs", false, "Keep snapshot files, remove only key material")
	cleanCmd.Flags().BoolVar(&cleanLocalOnly, "local-only", false, "Remove local session files without touching the cloud")
	cleanCmd.Flags().BoolVar(&cleanCloudOnly, "cloud-only", false, "Delete cloud resources, keep the local session")
}

func runClean(sessionID string) {
	if cleanLocalOnly && cleanCloudOnly {
		logging.Logger().Fatal("--local-only and --cloud-only are mutually exclusive")
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Logger().Fatal("Failed to load config", zap.Error(err))
	}

	sess, err := session.Open(cfg.SessionBase, sessionID)
	if err != nil {
		logging.Logger().Fatal("Failed to open session", zap.Error(err))
	}

	res := provision.LoadResources(sess)

	if !cleanLocalOnly {
		region := res.Region
		if region == "" {
			region = cfg.DefaultRegion
		}
		api, err := provider.New(context.Background(), cfg.Provider, region)
		if err != nil {
			logging.Logger().Fatal("Failed to create provider", zap.Error(err))
		}

		report := provision.Teardown(context.Background(), api, res)
		if failed := report.Failed(); len(failed) > 0 {
			for _, f := range failed {
				fmt.Printf("FAILED %s %s: %v\n", f.Kind, f.ID, f.Err)
			}
			logging.Logger().Fatal("Teardown incomplete, session kept for retry",
				zap.Int("failed", len(failed)))
		}
		fmt.Printf("Released %d cloud resources\n", len(report.Results))
	}

	if !cleanCloudOnly {
		if err := sess.Remove(cleanKeepLogs); err != nil {
			logging.Logger().Fatal("Failed to remove session files", zap.Error(err))
		}
		fmt.Printf("Session %s removed\n", sess.ID)
	}
}
