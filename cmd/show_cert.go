// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var showCertCmd = &cobra.Command{
	Use:   "show-cert slot",
	Short: "Print the certificate chain configured for a cert slot, PEM-encoded",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return loadCommonConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("show-cert requires exactly one slot argument")
		}
		var slot uint8
		if _, err := fmt.Sscanf(args[0], "%d", &slot); err != nil {
			return fmt.Errorf("invalid slot %q: %w", args[0], err)
		}
		return runShowCert(slot)
	},
}

func init() {
	rootCmd.AddCommand(showCertCmd)
}

func runShowCert(slot uint8) error {
	cfg, err := loadEndpointConfig()
	if err != nil {
		return err
	}
	slots, err := buildCertSlots(cfg)
	if err != nil {
		return err
	}
	if slot > 7 || slots[slot] == nil {
		return fmt.Errorf("no certificate configured for slot %d", slot)
	}
	certs, err := x509.ParseCertificates(slots[slot].Chain)
	if err != nil {
		return fmt.Errorf("parse cert slot %d chain: %w", slot, err)
	}
	for _, cert := range certs {
		if err := pem.Encode(os.Stdout, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}); err != nil {
			return err
		}
	}
	return nil
}
