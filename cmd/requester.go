// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dmtf-spdm/go-spdm/connection"
	"github.com/dmtf-spdm/go-spdm/cryptoprovider/stdprovider"
	"github.com/dmtf-spdm/go-spdm/endpoint"
	"github.com/dmtf-spdm/go-spdm/protocol"
	"github.com/dmtf-spdm/go-spdm/transport/tcpframed"
)

var requesterCmd = &cobra.Command{
	Use:   "requester dial_address",
	Short: "Walk the full connection and session handshake against a Responder",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return loadCommonConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("requester requires exactly one dial_address argument")
		}
		return runRequester(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(requesterCmd)
	requesterCmd.Flags().Uint8("slot", 0, "Certificate slot to authenticate and negotiate sessions with")
	requesterCmd.Flags().Bool("psk", false, "Establish the session with PSK_EXCHANGE instead of KEY_EXCHANGE")
	viper.BindPFlags(requesterCmd.Flags())
}

func runRequester(ctx context.Context, dialAddr string) error {
	cfg, err := loadEndpointConfig()
	if err != nil {
		return err
	}
	slots, err := buildCertSlots(cfg)
	if err != nil {
		return err
	}
	psks, err := buildPSKs(cfg)
	if err != nil {
		return err
	}

	const seqLen = 4
	ch, err := tcpframed.Dial(ctx, dialAddr, seqLen)
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	priorities := cfg.Algorithms.Priorities()
	ep := endpoint.New(endpoint.Config{
		Role:              connection.RoleRequester,
		LocalVersions:     []protocol.Version{protocol.Version10, protocol.Version11, protocol.Version12},
		LocalCapabilities: protocol.CapCertCap | protocol.CapChalCap | protocol.CapMeasCap | protocol.CapKeyExCap | protocol.CapPSKCap,
		Priorities: connection.AlgorithmPriorities{
			Hash:            priorities.Hash,
			Asym:            priorities.Asym,
			DHE:             priorities.DHE,
			AEAD:            priorities.AEAD,
			MeasurementHash: priorities.MeasurementHash,
		},
		Crypto: stdprovider.New(),
		SeqLen: seqLen,
	})
	for slot, s := range slots {
		if s != nil {
			if err := ep.SetCertChain(uint8(slot), s.Chain, s.SigningKey); err != nil {
				return err
			}
		}
	}

	slotID := uint8(viper.GetInt("slot"))
	slog.Info("connecting", "addr", dialAddr, "slot", slotID)
	if err := ep.Connect(ctx, ch, slotID); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	slog.Info("connection authenticated", "suite", ep.Connection().Suite)

	opts := endpoint.SessionOptions{LocalSlotID: slotID}
	if viper.GetBool("psk") {
		if len(psks) == 0 {
			return fmt.Errorf("requester: --psk set but no psks configured")
		}
		for hint, key := range psks {
			opts.PSK = key
			opts.PSKHint = []byte(hint)
			break
		}
	}
	sessionID, err := ep.StartSession(ctx, ch, opts)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	slog.Info("session established", "session_id", sessionID)

	heartbeat := (protocol.Codec{}).Encode(ep.Connection().Version, protocol.Heartbeat{})
	rsp, err := ep.SendSecured(ctx, ch, sessionID, heartbeat)
	if err != nil {
		return fmt.Errorf("secured exchange: %w", err)
	}
	slog.Info("secured exchange complete", "response", string(rsp))

	if err := ep.KeyUpdate(ctx, ch, sessionID, protocol.KeyUpdateOperationUpdateKey); err != nil {
		return fmt.Errorf("key update: %w", err)
	}
	slog.Info("session key rotated", "session_id", sessionID)

	if err := ep.EndSession(ctx, ch, sessionID, false); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	slog.Info("session ended", "session_id", sessionID)
	return nil
}
