package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/caesar-terminal/settle/internal/app"
	"github.com/caesar-terminal/settle/internal/kms"
)

func (c *cli) keyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "key", Short: "Manage the operator key"}

	address := &cobra.Command{
		Use:   "address",
		Short: "Print the address of the configured key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := app.LoadKeyRing(cmd.Context(), c.cfg.Signer, c.cfg.LocalStackEndpoint)
			if err != nil {
				return err
			}
			if key == nil {
				return fmt.Errorf("no key configured")
			}
			defer key.Destroy()
			fmt.Fprintln(cmd.OutOrStdout(), key.Address().Hex())
			return nil
		},
	}

	var in, out, keyID string
	seal := &cobra.Command{
		Use:   "seal",
		Short: "Encrypt a hex private key with KMS for SETTLE_SIGNER_KEY_FILE",
		Long: `Encrypt a hex private key with KMS.

Example:
  $ settlectl key seal --in operator.hex --out operator.key --kms-key-id alias/settle`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if keyID == "" {
				keyID = c.cfg.Signer.KMSKeyID
			}
			raw, err := os.ReadFile(in)
			if err != nil {
				return err
			}
			text := strings.TrimSpace(string(raw))
			if !strings.HasPrefix(text, "0x") {
				text = "0x" + text
			}
			key, err := hexutil.Decode(text)
			if err != nil {
				return fmt.Errorf("decode key: %w", err)
			}
			defer clear(key)

			client, err := kms.New(cmd.Context(), c.cfg.Signer.AWSRegion, c.cfg.LocalStackEndpoint)
			if err != nil {
				return err
			}
			return kms.SealKey(cmd.Context(), client, keyID, key, out)
		},
	}
	seal.Flags().StringVar(&in, "in", "", "file holding the hex private key")
	seal.Flags().StringVar(&out, "out", "", "destination of the sealed key")
	seal.Flags().StringVar(&keyID, "kms-key-id", "", "KMS key id (default $SETTLE_SIGNER_KMS_KEY_ID)")
	seal.MarkFlagRequired("in")
	seal.MarkFlagRequired("out")

	cmd.AddCommand(address, seal)
	return cmd
}
