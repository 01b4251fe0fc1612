// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dmtf-spdm/go-spdm/api"
	"github.com/dmtf-spdm/go-spdm/connection"
	"github.com/dmtf-spdm/go-spdm/cryptoprovider"
	"github.com/dmtf-spdm/go-spdm/cryptoprovider/stdprovider"
	"github.com/dmtf-spdm/go-spdm/endpoint"
	"github.com/dmtf-spdm/go-spdm/internal/audit"
	"github.com/dmtf-spdm/go-spdm/internal/config"
	"github.com/dmtf-spdm/go-spdm/internal/db"
	"github.com/dmtf-spdm/go-spdm/protocol"
	"github.com/dmtf-spdm/go-spdm/transport"
	"github.com/dmtf-spdm/go-spdm/transport/tcpframed"
)

var responderCmd = &cobra.Command{
	Use:   "responder listen_address",
	Short: "Serve as an SPDM Responder",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return loadCommonConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("responder requires exactly one listen_address argument")
		}
		return runResponder(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(responderCmd)
	responderCmd.Flags().String("admin-addr", "", "Address to serve the introspection/admin HTTP API on (disabled if empty)")
	responderCmd.Flags().Float64("accept-rate", 50, "max new connections accepted per second (token-bucket rate limit, 0 disables)")
	viper.BindPFlags(responderCmd.Flags())
}

func loadEndpointConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}

func buildCertSlots(cfg *config.Config) ([8]*endpoint.CertSlot, error) {
	var slots [8]*endpoint.CertSlot
	for _, sc := range cfg.CertSlots {
		if sc.Slot > 7 {
			return slots, fmt.Errorf("cert slot %d out of range 0..7", sc.Slot)
		}
		chainPEM, err := os.ReadFile(sc.CertPath)
		if err != nil {
			return slots, fmt.Errorf("read cert slot %d chain: %w", sc.Slot, err)
		}
		chainDER, err := pemChainToDER(chainPEM)
		if err != nil {
			return slots, fmt.Errorf("cert slot %d: %w", sc.Slot, err)
		}
		var signingKey crypto.Signer
		switch {
		case sc.FileKey != nil:
			signingKey, err = parsePrivateKey(sc.FileKey.Path)
		case sc.EnvKey != nil:
			signingKey, err = parsePrivateKeyFromEnv(sc.EnvKey.Var)
		}
		if err != nil {
			return slots, fmt.Errorf("cert slot %d signing key: %w", sc.Slot, err)
		}
		slots[sc.Slot] = &endpoint.CertSlot{Chain: chainDER, SigningKey: signingKey}
	}
	return slots, nil
}

func pemChainToDER(chainPEM []byte) ([]byte, error) {
	var der []byte
	rest := chainPEM
	for {
		var blk *pem.Block
		blk, rest = pem.Decode(rest)
		if blk == nil {
			break
		}
		cert, err := x509.ParseCertificate(blk.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		der = append(der, cert.Raw...)
	}
	if len(der) == 0 {
		return nil, fmt.Errorf("no PEM certificates found")
	}
	return der, nil
}

func parsePrivateKeyFromEnv(varName string) (crypto.Signer, error) {
	val := os.Getenv(varName)
	if val == "" {
		return nil, fmt.Errorf("environment variable %q is unset or empty", varName)
	}
	blk, _ := pem.Decode([]byte(val))
	if blk == nil {
		return nil, fmt.Errorf("environment variable %q does not hold a PEM key", varName)
	}
	return parsePrivateKeyDER(blk.Bytes)
}

func buildPSKs(cfg *config.Config) (map[string]cryptoprovider.Secret, error) {
	psks := make(map[string]cryptoprovider.Secret, len(cfg.PSKs))
	for _, p := range cfg.PSKs {
		key, err := hex.DecodeString(p.KeyHex)
		if err != nil {
			return nil, fmt.Errorf("psk %q: %w", p.Hint, err)
		}
		psks[p.Hint] = cryptoprovider.Secret(key)
	}
	return psks, nil
}

func newResponderEndpoint(cfg *config.Config, crypto cryptoprovider.Provider, slots [8]*endpoint.CertSlot, psks map[string]cryptoprovider.Secret, seqLen int) *endpoint.Endpoint {
	priorities := cfg.Algorithms.Priorities()
	ep := endpoint.New(endpoint.Config{
		Role:              connection.RoleResponder,
		LocalVersions:     []protocol.Version{protocol.Version10, protocol.Version11, protocol.Version12},
		LocalCapabilities: protocol.CapCertCap | protocol.CapChalCap | protocol.CapMeasCap | protocol.CapKeyExCap | protocol.CapPSKCap,
		Priorities: connection.AlgorithmPriorities{
			Hash:            priorities.Hash,
			Asym:            priorities.Asym,
			DHE:             priorities.DHE,
			AEAD:            priorities.AEAD,
			MeasurementHash: priorities.MeasurementHash,
		},
		Crypto: crypto,
		SeqLen: seqLen,
	})
	for slot, s := range slots {
		if s != nil {
			if err := ep.SetCertChain(uint8(slot), s.Chain, s.SigningKey); err != nil {
				slog.Error("install cert slot failed", "slot", slot, "err", err)
			}
		}
	}
	for hint, key := range psks {
		ep.SetPSK(hint, key)
	}
	return ep
}

func runResponder(ctx context.Context, listenAddr string) error {
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

	gdb, err := db.Open(db.Config{Driver: db.Driver(viper.GetString("db-driver")), DSN: viper.GetString("db")})
	if err != nil {
		return fmt.Errorf("audit database: %w", err)
	}
	recorder, err := audit.NewRecorder(gdb)
	if err != nil {
		return fmt.Errorf("audit recorder: %w", err)
	}

	const seqLen = 4
	ln, err := tcpframed.Listen(listenAddr, seqLen)
	if err != nil {
		return err
	}
	defer func() { _ = ln.Close() }()
	slog.Info("spdm responder listening", "addr", ln.Addr())

	registry := &endpointRegistry{}
	var adminSrv *http.Server
	if adminAddr := viper.GetString("admin-addr"); adminAddr != "" {
		adminSrv = &http.Server{
			Addr:              adminAddr,
			Handler:           api.NewHTTPHandler(registry, registry, recorder),
			ReadHeaderTimeout: 3 * time.Second,
		}
		go func() {
			slog.Info("admin API listening", "addr", adminAddr)
			if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("admin API server failed", "err", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(ctx)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		slog.Info("shutting down responder")
		cancel()
		_ = ln.Close()
		if adminSrv != nil {
			_ = adminSrv.Close()
		}
	}()

	crypto := stdprovider.New()
	g, gctx := errgroup.WithContext(ctx)

	acceptRate := viper.GetFloat64("accept-rate")
	var limiter *rate.Limiter
	if acceptRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(acceptRate), int(acceptRate)+1)
	}

	for {
		if limiter != nil {
			if err := limiter.Wait(gctx); err != nil {
				break
			}
		}
		ch, err := ln.Accept()
		if err != nil {
			if gctx.Err() != nil {
				break
			}
			return err
		}
		ep := newResponderEndpoint(cfg, crypto, slots, psks, seqLen)
		registry.add(ep)
		g.Go(func() error {
			return serveConnection(gctx, ch, ep, recorder)
		})
	}
	return g.Wait()
}

func serveConnection(ctx context.Context, ch transport.Channel, ep *endpoint.Endpoint, recorder *audit.Recorder) error {
	defer func() { _ = ch.Close() }()
	for {
		req, err := ch.Receive(ctx)
		if err != nil {
			return nil
		}
		rsp, err := ep.ProcessRequest(req)
		if err != nil {
			slog.Warn("request processing failed", "err", err)
			if recorder != nil {
				_ = recorder.Record(0, audit.EventSecurityViolation, err.Error())
			}
			continue
		}
		if err := ch.Send(ctx, rsp); err != nil {
			return err
		}
	}
}
