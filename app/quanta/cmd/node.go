package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/quantanetwork/go-quanta/app/services/node/handlers/v1/private"
)

var (
	startDetach    bool
	startPort      int
	startNetPort   int
	startRPCPort   int
	startDB        string
	startBootstrap []string
	startConfig    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Launch the node",
	RunE: func(cmd *cobra.Command, args []string) error {
		bin, err := exec.LookPath("quanta-node")
		if err != nil {
			return fmt.Errorf("quanta-node binary not found in PATH: %w", err)
		}

		nodeArgs := []string{}
		if startPort != 0 {
			nodeArgs = append(nodeArgs, fmt.Sprintf("--node-api-host=0.0.0.0:%d", startPort))
		}
		if startNetPort != 0 {
			nodeArgs = append(nodeArgs, fmt.Sprintf("--node-network-host=0.0.0.0:%d", startNetPort))
		}
		if startRPCPort != 0 {
			nodeArgs = append(nodeArgs, fmt.Sprintf("--node-rpc-host=127.0.0.1:%d", startRPCPort))
		}
		if startDB != "" {
			nodeArgs = append(nodeArgs, "--node-db-path="+startDB)
		}
		for _, b := range startBootstrap {
			nodeArgs = append(nodeArgs, "--node-bootstrap="+b)
		}
		if startConfig != "" {
			nodeArgs = append(nodeArgs, "--node-config-file="+startConfig)
		}

		node := exec.Command(bin, nodeArgs...)
		node.Stdout = os.Stdout
		node.Stderr = os.Stderr

		if startDetach {
			if err := node.Start(); err != nil {
				return err
			}
			fmt.Println("node started, pid", node.Process.Pid)
			return node.Process.Release()
		}

		return node.Run()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Gracefully stop the node",
	RunE: func(cmd *cobra.Command, args []string) error {
		var reply private.StopReply
		if err := rpcCall("stop", &struct{}{}, &reply); err != nil {
			return err
		}
		fmt.Println(reply.Status)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show node status",
	RunE: func(cmd *cobra.Command, args []string) error {
		var reply private.StatusReply
		if err := rpcCall("node_status", &struct{}{}, &reply); err != nil {
			return err
		}
		return printJSON(reply)
	},
}

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "List connected peers",
	RunE: func(cmd *cobra.Command, args []string) error {
		var reply private.PeersReply
		if err := rpcCall("get_peers", &struct{}{}, &reply); err != nil {
			return err
		}
		return printJSON(reply)
	},
}

var printHeightCmd = &cobra.Command{
	Use:   "print_height",
	Short: "Print the current tip height",
	RunE: func(cmd *cobra.Command, args []string) error {
		var reply private.StatusReply
		if err := rpcCall("node_status", &struct{}{}, &reply); err != nil {
			return err
		}
		fmt.Println(reply.Height)
		return nil
	},
}

var getBlockCmd = &cobra.Command{
	Use:   "get_block <height>",
	Short: "Print the block at a height",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		height, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return usageErrorf("invalid height %q", args[0])
		}

		var reply json.RawMessage
		if err := rpcCall("get_block", &private.GetBlockArgs{Height: height}, &reply); err != nil {
			return err
		}

		fmt.Println(string(reply))
		return nil
	},
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func init() {
	startCmd.Flags().BoolVar(&startDetach, "detach", false, "run the node in the background")
	startCmd.Flags().IntVar(&startPort, "port", 0, "REST API port")
	startCmd.Flags().IntVar(&startNetPort, "network-port", 0, "peer-to-peer port")
	startCmd.Flags().IntVar(&startRPCPort, "rpc-port", 0, "JSON-RPC port")
	startCmd.Flags().StringVar(&startDB, "db", "", "database path")
	startCmd.Flags().StringSliceVar(&startBootstrap, "bootstrap", nil, "bootstrap peers")
	startCmd.Flags().StringVar(&startConfig, "config", "", "TOML configuration file")

	rootCmd.AddCommand(startCmd, stopCmd, statusCmd, peersCmd, printHeightCmd, getBlockCmd)
}
