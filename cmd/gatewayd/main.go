// Command gatewayd is the reference entrypoint that exercises
// pkg/gatewayapi end to end (bring-up, poll, schedule, setpoint write) for
// development and the integration tests — not the product's outer-facing
// binary (see SPEC_FULL.md's Non-goals on HTTP/REST, auth, the document
// store's full query surface). It follows the teacher's cmd/{server,client}
// one-shot-CLI shape, rebuilt on cobra/viper the way arx-os's cmd/arx does
// for a multi-subcommand binary.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raohassandev/modbus-gateway/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "gatewayd",
	Short:         "Modbus device gateway reference binary",
	Long:          "gatewayd brings up a fleet of Modbus devices, polls them on schedule, and exercises the setpoint/schedule engine end to end.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfigAndLogger()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to gatewayd config file (defaults to ./gatewayd.yaml)")
	rootCmd.AddCommand(startCmd, testConnectionCmd, pollCmd)
}

func initConfigAndLogger() error {
	c, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	cfg = c

	zcfg := zap.NewProductionConfig()
	if !cfg.Log.JSON {
		zcfg.Encoding = "console"
	}
	level, err := zap.ParseAtomicLevel(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("gatewayd: log.level %q: %w", cfg.Log.Level, err)
	}
	zcfg.Level = level
	l, err := zcfg.Build()
	if err != nil {
		return fmt.Errorf("gatewayd: build logger: %w", err)
	}
	logger = l
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
