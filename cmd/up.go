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
	"cloudforge/internal/remote"
	"cloudforge/internal/session"
	"cloudforge/internal/spec"
)

var (
	upSpecFile  string
	upSpecURL   string
	upRegion    string
	upSkipSetup bool
)

// upCmd represents the up command
var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Provision a new session",
	Long: `Provision a network, an instance and optionally a managed MySQL
database from a resource specification. With no spec the built-in
default (a small general-purpose instance) is used.`,
	Run: func(cmd *cobra.Command, args []string) {
		runUp()
	},
}

func init() {
	rootCmd.AddCommand(upCmd)

	upCmd.Flags().StringVarP(&upSpecFile, "spec", "f", "", "Path to resource spec JSON file")
	upCmd.Flags().StringVar(&upSpecURL, "spec-url", "", "URL to fetch the resource spec from")
	upCmd.Flags().StringVar(&upRegion, "region", "", "Override the spec's region")
	upCmd.Flags().BoolVar(&upSkipSetup, "skip-setup", false, "Skip post-provisioning SSH setup commands")
}

func loadSpec() (*spec.ResourceSpec, error) {
	switch {
	case upSpecFile != "" && upSpecURL != "":
		return nil, fmt.Errorf("--spec and --spec-url are mutually exclusive")
	case upSpecFile != "":
		return spec.Load(upSpecFile)
	case upSpecURL != "":
		return spec.Fetch(upSpecURL)
	default:
		return spec.Default(), nil
	}
}

func runUp() {
	cfg, err := config.Load()
	if err != nil {
		logging.Logger().Fatal("Failed to load config", zap.Error(err))
	}

	rspec, err := loadSpec()
	if err != nil {
		logging.Logger().Fatal("Failed to load resource spec", zap.Error(err))
	}
	if upRegion != "" {
		rspec.Region = upRegion
	}
	if rspec.Region == "" {
		rspec.Region = cfg.DefaultRegion
	}

	ctx := context.Background()

	api, err := provider.New(ctx, cfg.Provider, rspec.Region)
	if err != nil {
		logging.Logger().Fatal("Failed to create provider", zap.Error(err))
	}

	sess, err := session.New(cfg.SessionBase)
	if err != nil {
		logging.Logger().Fatal("Failed to create session", zap.Error(err))
	}
	fmt.Printf("Session: %s\n", sess.ID)

	o := provision.NewOrchestrator(api, sess, rspec, provision.Options{
		LoginUser:    cfg.LoginUser,
		ImageID:      provider.ImageID(cfg.Provider),
		PollInterval: cfg.PollInterval(),
		ComputeWait:  cfg.ComputeWait(),
		DatabaseWait: cfg.DatabaseWait(),
	})

	if err := o.Run(ctx); err != nil {
		logging.Logger().Fatal("Provisioning failed", zap.Error(err))
	}

	res := o.Resources()
	fmt.Println(res.Summary())

	if res.ComputeID != "" && !upSkipSetup && len(cfg.SetupCommands) > 0 {
		runSetup(cfg, res)
	}

	if res.ComputeID != "" {
		fmt.Printf("\nConnect: ssh -i %s %s@%s\n", res.PrivateKeyPath, cfg.LoginUser, res.PublicIP)
	}
}

func runSetup(cfg *config.Config, res *provision.Resources) {
	client, err := remote.Connect(remote.Config{
		Host:           res.PublicIP,
		User:           cfg.LoginUser,
		PrivateKeyPath: res.PrivateKeyPath,
	})
	if err != nil {
		logging.Logger().Error("Failed to connect for setup", zap.Error(err))
		return
	}
	defer client.Close()

	for _, command := range cfg.SetupCommands {
		if err := client.Run(command); err != nil {
			logging.Logger().Error("Setup command failed",
				zap.String("command", logging.Truncate(command)),
				zap.Error(err))
			return
		}
	}
	logging.Logger().Info("Setup finished", zap.Int("commands", len(cfg.SetupCommands)))
}
