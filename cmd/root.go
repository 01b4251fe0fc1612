// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"hermannm.dev/devlog"
)

var logLevel slog.LevelVar

var rootCmd = &cobra.Command{
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	Use:   "spdm-endpoint",
	Short: "Reference Requester and Responder for the SPDM connection and session protocol",
	Long: `spdm-endpoint drives or serves the DSP0274 connection handshake and
	DSP0277 secured-message session establishment over a TCP-framed
	transport. It can act as a Responder (serving requests) or a Requester
	(walking the full handshake against a Responder).
`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Called once by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	slog.SetDefault(slog.New(devlog.NewHandler(os.Stdout, &devlog.Options{
		Level: &logLevel,
	})))

	rootCmd.PersistentFlags().Bool("debug", false, "Print debug-level protocol state transitions")
	rootCmd.PersistentFlags().String("config", "", "Pathname of the configuration file")
	rootCmd.PersistentFlags().String("db", "", "Audit database file path (sqlite) or DSN (postgres)")
	rootCmd.PersistentFlags().String("db-driver", "sqlite", "Audit database driver: sqlite or postgres")
}

// loadCommonConfig binds persistent flags into viper, reads an optional
// --config file, and applies the debug flag to the shared log level. Every
// subcommand calls this from its PreRunE before reading its own flags.
func loadCommonConfig(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return err
	}

	if configPath := viper.GetString("config"); configPath != "" {
		slog.Debug("loading configuration file", "path", configPath)
		viper.SetConfigFile(configPath)
		if err := viper.ReadInConfig(); err != nil {
			return err
		}
	}

	if viper.GetBool("debug") {
		logLevel.Set(slog.LevelDebug)
	}
	return nil
}
