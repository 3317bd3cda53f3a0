package main

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/project-steve/gs-bridge/internal/sealbox"
)

func hexArg(name, s string, want int) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s hex: %w", name, err)
	}
	if want > 0 && len(b) != want {
		return nil, fmt.Errorf("%s must be %d bytes (%d hex chars)", name, want, want*2)
	}
	return b, nil
}

func newSealCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seal KEY_HEX NONCE_HEX [AAD_HEX]",
		Short: "Encrypt stdin, print ciphertext and tag as hex",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := hexArg("key", args[0], sealbox.KeySize)
			if err != nil {
				return err
			}
			nonce, err := hexArg("nonce", args[1], sealbox.NonceSize)
			if err != nil {
				return err
			}
			var aad []byte
			if len(args) == 3 {
				if aad, err = hexArg("AAD", args[2], 0); err != nil {
					return err
				}
			}
			pt, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			ct, tag, err := sealbox.Seal(key, nonce, pt, aad)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "CIPHERTEXT_HEX=%s\n", hex.EncodeToString(ct))
			fmt.Fprintf(out, "TAG_HEX=%s\n", hex.EncodeToString(tag))
			return nil
		},
	}
}
