package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/project-steve/gs-bridge/internal/sealbox"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gs-crypt",
		Short: "Seal and open robot provisioning secrets (AES-256-GCM)",
		Long: `gs-crypt encrypts and decrypts short secrets exchanged during robot
provisioning. Keys, nonces, tags and AAD are hex on the command line;
payloads travel over stdin/stdout.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSealCmd())
	rootCmd.AddCommand(newOpenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, sealbox.ErrAuth) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
