package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quantanetwork/go-quanta/foundation/blockchain/database/storage/pebbledb"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/genesis"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/state"
)

var (
	dbPath      string
	genesisPath string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print chain statistics straight from a database",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, closeFn, err := openState()
		if err != nil {
			return err
		}
		defer closeFn()

		latest := st.RetrieveLatestBlock()
		supply := st.RetrieveSupply()

		fmt.Println("height:          ", latest.Header.Height)
		fmt.Println("tip:             ", latest.Hash().Hex())
		fmt.Println("difficulty:      ", latest.Header.Difficulty)
		fmt.Println("cumulative work: ", st.RetrieveCumulativeWork())
		fmt.Println("circulating:     ", supply.Circulating)
		fmt.Println("locked:          ", supply.Locked)
		fmt.Println("burned:          ", supply.Burned)
		fmt.Println("treasury:        ", supply.Treasury)
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Re-validate every block in a database",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, closeFn, err := openState()
		if err != nil {
			return err
		}
		defer closeFn()

		if err := st.ValidateChain(); err != nil {
			return fmt.Errorf("chain invalid: %w", err)
		}

		fmt.Printf("chain valid through height %d\n", st.RetrieveLatestBlock().Header.Height)
		return nil
	},
}

// openState opens a database directly for offline commands.
func openState() (*state.State, func(), error) {
	if dbPath == "" {
		return nil, nil, usageErrorf("--db is required")
	}

	gen, err := genesis.Load(genesisPath)
	if err != nil {
		gen = genesis.TestNet()
	}

	strg, err := pebbledb.New(dbPath)
	if err != nil {
		return nil, nil, err
	}

	st, err := state.New(state.Config{
		Genesis: gen,
		Storage: strg,
	})
	if err != nil {
		strg.Close()
		return nil, nil, err
	}

	return st, func() { st.Shutdown() }, nil
}

func init() {
	for _, c := range []*cobra.Command{statsCmd, validateCmd} {
		c.Flags().StringVar(&dbPath, "db", "", "database path")
		c.Flags().StringVar(&genesisPath, "genesis", "zblock/genesis.json", "genesis file path")
	}

	rootCmd.AddCommand(statsCmd, validateCmd)
}
