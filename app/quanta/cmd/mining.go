package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quantanetwork/go-quanta/app/services/node/handlers/v1/private"
)

var startMiningCmd = &cobra.Command{
	Use:   "start_mining <address>",
	Short: "Start mining to the specified address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var reply private.MiningReply
		if err := rpcCall("start_mining", &private.StartMiningArgs{Address: args[0]}, &reply); err != nil {
			return err
		}
		fmt.Printf("mining started for %s\n", reply.Miner)
		return nil
	},
}

var stopMiningCmd = &cobra.Command{
	Use:   "stop_mining",
	Short: "Stop mining",
	RunE: func(cmd *cobra.Command, args []string) error {
		var reply private.MiningReply
		if err := rpcCall("stop_mining", &struct{}{}, &reply); err != nil {
			return err
		}
		fmt.Println("mining stopped")
		return nil
	},
}

var miningStatusCmd = &cobra.Command{
	Use:   "mining_status",
	Short: "Show the mining status",
	RunE: func(cmd *cobra.Command, args []string) error {
		var reply private.MiningReply
		if err := rpcCall("mining_status", &struct{}{}, &reply); err != nil {
			return err
		}
		return printJSON(reply)
	},
}

func init() {
	rootCmd.AddCommand(startMiningCmd, stopMiningCmd, miningStatusCmd)
}
