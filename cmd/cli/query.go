package cli

import (
	"strconv"

	"github.com/canopy-network/metanode/lib"
	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "query the metanode rpc",
}

var (
	node, from, limit = 0, uint64(0), 0
)

func init() {
	queryCmd.PersistentFlags().IntVar(&node, "node", 0, "the localnet validator answering the query")
	queryCmd.PersistentFlags().Uint64Var(&from, "from", 0, "the first height of a range")
	queryCmd.PersistentFlags().IntVar(&limit, "limit", 0, "the maximum number of items of a range, 0 is all")
	queryCmd.AddCommand(heightCmd)
	queryCmd.AddCommand(statusCmd)
	queryCmd.AddCommand(blkByHeightCmd)
	queryCmd.AddCommand(blkByHashCmd)
	queryCmd.AddCommand(certCmd)
	queryCmd.AddCommand(checkpointCmd)
	queryCmd.AddCommand(checkpointsCmd)
	queryCmd.AddCommand(evidenceCmd)
	queryCmd.AddCommand(validatorSetCmd)
	queryCmd.AddCommand(txCmd)
}

var (
	heightCmd = &cobra.Command{
		Use:   "height --node=0",
		Short: "query the latest committed height",
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.Height(node))
		},
	}

	statusCmd = &cobra.Command{
		Use:   "status --node=0",
		Short: "query the consensus state of a validator",
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.Status(node))
		},
	}

	blkByHeightCmd = &cobra.Command{
		Use:   "block <height>",
		Short: "query a committed block by height",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.BlockByHeight(node, argToHeight(args[0])))
		},
	}

	blkByHashCmd = &cobra.Command{
		Use:   "block-by-hash <hash>",
		Short: "query a committed block by hash",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.BlockByHash(node, argToHash(args[0])))
		},
	}

	certCmd = &cobra.Command{
		Use:   "certificate <height>",
		Short: "query the commit certificate of a height",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.CertByHeight(node, argToHeight(args[0])))
		},
	}

	checkpointCmd = &cobra.Command{
		Use:   "checkpoint [height]",
		Short: "query a checkpoint certificate, the latest without a height",
		Run: func(cmd *cobra.Command, args []string) {
			height := uint64(0)
			if len(args) != 0 {
				height = argToHeight(args[0])
			}
			writeToConsole(client.Checkpoint(node, height))
		},
	}

	checkpointsCmd = &cobra.Command{
		Use:   "checkpoints --from=1 --limit=10",
		Short: "query a range of the checkpoint chain",
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.Checkpoints(node, from, limit))
		},
	}

	evidenceCmd = &cobra.Command{
		Use:   "evidence --node=0",
		Short: "query the misbehavior a validator observed",
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.Evidence(node))
		},
	}

	validatorSetCmd = &cobra.Command{
		Use:   "validators --node=0",
		Short: "query the validator set in force",
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.ValidatorSet(node))
		},
	}

	txCmd = &cobra.Command{
		Use:   "tx <payload>",
		Short: "submit a transaction to every validator",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.Transaction(args[0]))
		},
	}
)

func argToHeight(arg string) uint64 {
	h, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		l.Fatal(err.Error())
	}
	return h
}

func argToHash(arg string) lib.HexBytes {
	bz, err := lib.NewHexBytesFromString(arg)
	if err != nil {
		l.Fatal(err.Error())
	}
	return bz
}
