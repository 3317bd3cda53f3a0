package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/project-steve/gs-bridge/internal/sealbox"
)

func newOpenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open KEY_HEX NONCE_HEX TAG_HEX [AAD_HEX]",
		Short: "Decrypt ciphertext hex from stdin, print the plaintext",
		Args:  cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := hexArg("key", args[0], sealbox.KeySize)
			if err != nil {
				return err
			}
			nonce, err := hexArg("nonce", args[1], sealbox.NonceSize)
			if err != nil {
				return err
			}
			tag, err := hexArg("tag", args[2], sealbox.TagSize)
			if err != nil {
				return err
			}
			var aad []byte
			if len(args) == 4 {
				if aad, err = hexArg("AAD", args[3], 0); err != nil {
					return err
				}
			}
			raw, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			ct, err := hex.DecodeString(strings.TrimSpace(string(raw)))
			if err != nil {
				return fmt.Errorf("invalid ciphertext hex: %w", err)
			}
			pt, err := sealbox.Open(key, nonce, ct, tag, aad)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if _, err := out.Write(pt); err != nil {
				return err
			}
			fmt.Fprintln(out)
			return nil
		},
	}
}
