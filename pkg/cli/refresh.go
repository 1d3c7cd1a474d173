package cli

import (
	"strconv"

	"github.com/beam-cloud/mailsync/pkg/gateway"
	"github.com/spf13/cobra"
)

var refreshOnceCmd = &cobra.Command{
	Use:   "refresh-once",
	Short: "Refresh every access token close to expiry, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig()
		if err != nil {
			return err
		}

		gw, err := gateway.New(config)
		if err != nil {
			return err
		}
		defer gw.Close()

		result := gw.RefreshOnce(cmd.Context())
		if PrintJSON(result) {
			return nil
		}

		PrintHeader("Token refresh")
		PrintKeyValue("Refreshed", strconv.Itoa(result.Refreshed))
		PrintKeyValue("Skipped", strconv.Itoa(result.Skipped))
		PrintKeyValue("Failed", strconv.Itoa(result.Failed))
		if result.Failed > 0 {
			PrintHint("Accounts that keep failing need to be reauthorized.")
		}
		return nil
	},
}
