package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raohassandev/modbus-gateway/pkg/gatewayapi"
)

var pollCmd = &cobra.Command{
	Use:   "poll <device-id>",
	Short: "Poll one configured device immediately and print the decoded reading",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		gw, err := gatewayapi.Open(cfg, logger)
		if err != nil {
			return err
		}
		defer gw.Close()

		reading, err := gw.PollDevice(context.Background(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("device:    %s\n", reading.DeviceID)
		fmt.Printf("timestamp: %s\n", reading.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
		for _, e := range reading.Entries {
			if e.Error != "" {
				fmt.Printf("  %-20s error: %s\n", e.Name, e.Error)
				continue
			}
			if e.Value != nil {
				fmt.Printf("  %-20s %v %s\n", e.Name, *e.Value, e.Unit)
				continue
			}
			fmt.Printf("  %-20s %v %s\n", e.Name, e.Raw, e.Unit)
		}
		return nil
	},
}
