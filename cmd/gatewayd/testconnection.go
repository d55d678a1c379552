package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raohassandev/modbus-gateway/pkg/gatewayapi"
)

var testConnectionCmd = &cobra.Command{
	Use:   "test-connection <device-id>",
	Short: "Probe a configured device's transport and report a troubleshooting diagnosis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		gw, err := gatewayapi.Open(cfg, logger)
		if err != nil {
			return err
		}
		defer gw.Close()

		result, err := gw.DiagnoseDevice(context.Background(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("status:      %s\n", result.Status)
		if result.ErrorType != "" {
			fmt.Printf("error_type:  %s\n", result.ErrorType)
		}
		fmt.Printf("message:     %s\n", result.Message)
		if result.Troubleshooting != "" {
			fmt.Printf("suggestion:  %s\n", result.Troubleshooting)
		}
		fmt.Printf("device:      %s\n", result.DeviceInfo)
		fmt.Printf("checked_at:  %s\n", result.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
		return nil
	},
}
