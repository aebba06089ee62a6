package cli

import (
	"github.com/spf13/cobra"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "admin only operations for the node",
}

func init() {
	adminCmd.AddCommand(resourceUsageCmd)
	adminCmd.AddCommand(consensusInfoCmd)
	adminCmd.AddCommand(configCmd)
	adminCmd.AddCommand(configDiffCmd)
}

var (
	resourceUsageCmd = &cobra.Command{
		Use:   "resource-usage",
		Short: "get node resource usage",
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.ResourceUsage())
		},
	}

	consensusInfoCmd = &cobra.Command{
		Use:   "consensus-info",
		Short: "get the consensus state of every validator",
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.ConsensusInfo())
		},
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "retrieve the configuration of the running node",
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.Config())
		},
	}

	configDiffCmd = &cobra.Command{
		Use:   "config-diff",
		Short: "show how the running configuration departs from the defaults",
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.ConfigDiff())
		},
	}
)
