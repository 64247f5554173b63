package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/quantanetwork/go-quanta/app/services/node/handlers/v1/private"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/database"
	"github.com/quantanetwork/go-quanta/foundation/blockchain/wallet"
)

var (
	sendWallet string
	sendTo     string
	sendAmount uint64
	sendFee    uint64
	sendAPIURL string
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Sign and submit a transfer",
	RunE: func(cmd *cobra.Command, args []string) error {
		if sendWallet == "" || sendTo == "" || sendAmount == 0 {
			return usageErrorf("--wallet, --to, and --amount are required")
		}

		toID, err := database.ToAccountID(sendTo)
		if err != nil {
			return usageErrorf("invalid recipient: %s", err)
		}

		passphrase, err := readPassphrase(false)
		if err != nil {
			return err
		}

		w, err := wallet.Load(sendWallet, passphrase)
		if err != nil {
			return err
		}
		fromID := w.AccountID()

		// The next nonce comes from the node; pending mempool entries would
		// need a higher one, which the node reports through the admission
		// error if we race.
		var balance private.BalanceReply
		if err := rpcCall("get_balance", &private.GetBalanceArgs{Address: fromID.Hex()}, &balance); err != nil {
			return err
		}

		tx := database.NewTx(fromID, toID, sendAmount, sendFee, balance.Nonce)
		signedTx, err := tx.Sign(w.Keypair)
		if err != nil {
			return err
		}

		payload, err := json.Marshal(signedTx)
		if err != nil {
			return err
		}

		resp, err := http.Post(sendAPIURL+"/api/transaction", "application/json", bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("%w: %s", errUnreachable, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			var er struct {
				Error string `json:"error"`
			}
			json.NewDecoder(resp.Body).Decode(&er)
			return fmt.Errorf("transaction rejected: %s", er.Error)
		}

		txHash, _ := database.NewBlockTx(signedTx).TxHash()
		fmt.Println("submitted:", txHash.Hex())
		return nil
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendWallet, "wallet", "", "wallet file path")
	sendCmd.Flags().StringVar(&sendTo, "to", "", "recipient address")
	sendCmd.Flags().Uint64Var(&sendAmount, "amount", 0, "amount in microunits")
	sendCmd.Flags().Uint64Var(&sendFee, "fee", database.MinTxFee, "fee in microunits")
	sendCmd.Flags().StringVar(&sendAPIURL, "api-url", "http://127.0.0.1:8080", "node REST endpoint")

	rootCmd.AddCommand(sendCmd)
}
