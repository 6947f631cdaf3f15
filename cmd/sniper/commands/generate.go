package commands

import (
	"turmasniper/internal/components/telemetry"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(generateCmd)
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Scrapes every subject and (over)writes the preferences file with the sections seen.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		tel := telemetry.SlogAPI{}
		client := newClient(cfg, tel)

		subjects := listSubjects(cmd.Context(), client)
		generatePreferences(cmd.Context(), cfg, client, subjects, tel)
	},
}
