package cli

import (
	"github.com/beam-cloud/mailsync/pkg/gateway"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the refresh scheduler and health endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig()
		if err != nil {
			return err
		}

		gw, err := gateway.New(config)
		if err != nil {
			return err
		}
		return gw.Run(cmd.Context())
	},
}
