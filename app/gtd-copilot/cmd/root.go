package cmd

import (
	"fmt"
	"log"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	gtdconfig "github.com/cchalm/gtd-copilot/internal/config"
)

var (
	config     = gtdconfig.Default()
	configPath string
	offline    bool
)

var rootCmd = &cobra.Command{
	Use:   "gtd-copilot",
	Short: "Terminal client for a GTD assistant",
	Long: `gtd-copilot talks to an assistant about your tasks. The assistant proposes projects,
actions and reference material, and nothing is created until you accept a proposal.
Items can also be listed and changed directly.`,
	PersistentPreRunE: loadRootConfig,
	SilenceUsage:      true,
}

func Execute() error {
	return rootCmd.Execute()
}

func loadRootConfig(_ *cobra.Command, _ []string) error {
	// Load .env file
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found, using environment variables")
	}

	loaded, err := gtdconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if offline {
		loaded.Offline = true
	}
	if err := loaded.Validate(); err != nil {
		return err
	}
	config = loaded
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "Keep items in memory and talk to no backend")
}
