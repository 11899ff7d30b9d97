// Command ca-bootstrap materializes a root/intermediate X.509 CA and an
// SSH CA to disk, offline and without touching the running server's
// database. The X.509 files it produces are pasted into POST /unseal/init
// by an operator standing up a new CA from scratch; the SSH CA key is
// imported afterwards through the admin API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ca-bootstrap",
	Short: "Generate offline CA material for nioca",
	Long: `ca-bootstrap creates the X.509 root/intermediate pair that the
unseal/init call needs, and an SSH CA key for later import through the
admin API. It never talks to a database or a running server: every output
is a file written to --out.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
