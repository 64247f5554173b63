package cmd

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/quantanetwork/go-quanta/foundation/blockchain/wallet"
)

var walletFile string

var newWalletCmd = &cobra.Command{
	Use:   "new_wallet",
	Short: "Generate a new Falcon-512 wallet file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if walletFile == "" {
			return usageErrorf("--file is required")
		}
		if _, err := os.Stat(walletFile); err == nil {
			return fmt.Errorf("refusing to overwrite %s", walletFile)
		}

		passphrase, err := readPassphrase(true)
		if err != nil {
			return err
		}

		w, err := wallet.New()
		if err != nil {
			return err
		}
		if err := w.Save(walletFile, passphrase); err != nil {
			return err
		}

		fmt.Println("address:", w.AccountID().Hex())
		return nil
	},
}

var newHDWalletCmd = &cobra.Command{
	Use:   "new_hd_wallet",
	Short: "Generate a new multi-account wallet file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if walletFile == "" {
			return usageErrorf("--file is required")
		}
		if _, err := os.Stat(walletFile); err == nil {
			return fmt.Errorf("refusing to overwrite %s", walletFile)
		}

		passphrase, err := readPassphrase(true)
		if err != nil {
			return err
		}

		hd, err := wallet.NewHD()
		if err != nil {
			return err
		}
		if err := hd.Save(walletFile, passphrase); err != nil {
			return err
		}

		accountID, err := hd.AccountID(0)
		if err != nil {
			return err
		}

		fmt.Println("account 0:", accountID.Hex())
		return nil
	},
}

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Show wallet information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if walletFile == "" {
			return usageErrorf("--file is required")
		}

		passphrase, err := readPassphrase(false)
		if err != nil {
			return err
		}

		w, err := wallet.Load(walletFile, passphrase)
		if err != nil {
			return err
		}

		fmt.Println("address:      ", w.AccountID().Hex())
		fmt.Println("public key:   ", len(w.Keypair.PublicKey), "bytes")
		fmt.Println("private key:  ", len(w.Keypair.PrivateKey), "bytes")
		return nil
	},
}

var walletAddressCmd = &cobra.Command{
	Use:   "wallet_address",
	Short: "Print the wallet's address",
	RunE: func(cmd *cobra.Command, args []string) error {
		if walletFile == "" {
			return usageErrorf("--file is required")
		}

		passphrase, err := readPassphrase(false)
		if err != nil {
			return err
		}

		w, err := wallet.Load(walletFile, passphrase)
		if err != nil {
			return err
		}

		fmt.Println(w.AccountID().Hex())
		return nil
	},
}

// readPassphrase prompts on the terminal, twice for new wallets.
func readPassphrase(confirm bool) ([]byte, error) {
	fmt.Fprint(os.Stderr, "passphrase: ")
	passphrase, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}

	if confirm {
		fmt.Fprint(os.Stderr, "confirm passphrase: ")
		again, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, err
		}
		if string(passphrase) != string(again) {
			return nil, fmt.Errorf("passphrases do not match")
		}
	}

	return passphrase, nil
}

func init() {
	for _, c := range []*cobra.Command{newWalletCmd, newHDWalletCmd, walletCmd, walletAddressCmd} {
		c.Flags().StringVar(&walletFile, "file", "", "wallet file path")
	}

	rootCmd.AddCommand(newWalletCmd, newHDWalletCmd, walletCmd, walletAddressCmd)
}
