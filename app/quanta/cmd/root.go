package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/gorilla/rpc/v2/json2"
	"github.com/spf13/cobra"
)

// Exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitUsage       = 2
	exitUnreachable = 3
)

// errUnreachable marks RPC transport failures so Execute can map them to
// the dedicated exit code.
var errUnreachable = errors.New("rpc unreachable")

var rpcURL string

var rootCmd = &cobra.Command{
	Use:           "quanta",
	Short:         "QUANTA node and wallet tooling",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rpcURL, "rpc-url", "http://127.0.0.1:9090/rpc", "node JSON-RPC endpoint")
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)

		switch {
		case errors.Is(err, errUnreachable):
			return exitUnreachable
		case isUsageError(err):
			return exitUsage
		default:
			return exitFailure
		}
	}

	return exitOK
}

// usageError wraps argument mistakes for exit code 2.
type usageError struct {
	err error
}

func (ue usageError) Error() string { return ue.err.Error() }

func usageErrorf(format string, args ...any) error {
	return usageError{err: fmt.Errorf(format, args...)}
}

func isUsageError(err error) bool {
	var ue usageError
	return errors.As(err, &ue)
}

// rpcCall performs one JSON-RPC 2.0 request against the node.
func rpcCall(method string, args any, reply any) error {
	body, err := json2.EncodeClientRequest(method, args)
	if err != nil {
		return err
	}

	resp, err := http.Post(rpcURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %s", errUnreachable, err)
	}
	defer resp.Body.Close()

	if err := json2.DecodeClientResponse(resp.Body, reply); err != nil {
		return err
	}

	return nil
}
