package cli

import (
	"fmt"
	"os"

	"github.com/beam-cloud/mailsync/pkg/common"
	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Build information (injected at compile time via ldflags)
var Version = "dev"

var (
	configPath string
	jsonOutput bool
)

var helpTemplate = `{{with .Long}}{{. | trim}}

{{end}}{{if .HasAvailableSubCommands}}` + `{{.CommandPath}}` + ` ` + `<command>` + `

{{end}}{{if .HasAvailableSubCommands}}Commands:
{{range .Commands}}{{if .IsAvailableCommand}}  {{rpad .Name .NamePadding }}  {{.Short}}
{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}
Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}
`

var rootCmd = &cobra.Command{
	Use:   "syncd",
	Short: "Mailbox sync daemon",
	Long: lipgloss.NewStyle().Foreground(ColorPrimary).Bold(true).Render("syncd") + ` - Mailbox sync daemon

Keeps OAuth credentials for Gmail and Outlook accounts fresh and ingests
new mail into the local store.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		SetJSONOutput(jsonOutput)
		if configPath != "" {
			os.Setenv(common.ConfigPathEnv, configPath)
		}
	},
}

func init() {
	rootCmd.SetHelpTemplate(helpTemplate)
	rootCmd.SetVersionTemplate(fmt.Sprintf("  %s version %s\n", BrandStyle.Render("syncd"), Version))

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a yaml or json config file (overrides $"+common.ConfigPathEnv+")")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(refreshOnceCmd)
	rootCmd.AddCommand(migrateCmd)
}

// Execute runs the CLI
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		PrintError(err)
		return err
	}
	return nil
}

// loadConfig reads the layered config and applies its logging settings
func loadConfig() (types.AppConfig, error) {
	configManager, err := common.NewConfigManager[types.AppConfig]()
	if err != nil {
		return types.AppConfig{}, fmt.Errorf("load config: %w", err)
	}
	config := configManager.GetConfig()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if config.DebugMode {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if config.PrettyLogs {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return config, nil
}
