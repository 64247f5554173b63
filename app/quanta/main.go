// quanta is the command line interface for operating a node and working
// with wallets.
package main

import (
	"os"

	"github.com/quantanetwork/go-quanta/app/quanta/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
