package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cloudforge/internal/config"
	"cloudforge/internal/logging"
	"cloudforge/internal/session"
)

// sessionsCmd represents the sessions command
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored sessions",
	Run: func(cmd *cobra.Command, args []string) {
		listSessions()
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}

func listSessions() {
	cfg, err := config.Load()
	if err != nil {
		logging.Logger().Fatal("Failed to load config", zap.Error(err))
	}

	infos, err := session.List(cfg.SessionBase)
	if err != nil {
		logging.Logger().Fatal("Failed to list sessions", zap.Error(err))
	}
	if len(infos) == 0 {
		fmt.Println("No sessions found")
		return
	}

	for _, info := range infos {
		marks := ""
		if info.HasCompute {
			marks += " [compute]"
		}
		if info.HasDatabase {
			marks += " [database]"
		}
		fmt.Printf("%s%s\n", info.ID, marks)
	}
}
