package commands

import (
	"fmt"
	"log/slog"
	"strings"
	"turmasniper/internal/preferences"
	"turmasniper/pkg/textutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(optionsCmd)
}

var optionsCmd = &cobra.Command{
	Use:   "options [subject...]",
	Short: "Prints the desired and known sections of every subject in the preferences file.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		prefs, err := preferences.Load(cfg.PreferencesFile)
		if err != nil {
			fatal("failed to read preferences, run generate first", err)
		}

		names := prefs.SubjectNames()
		if len(args) > 0 {
			var selected []string
			for _, name := range args {
				if _, ok := prefs.Subjects[name]; ok {
					selected = append(selected, name)
					continue
				}
				closest, found := textutil.Closest(name, names)
				if found {
					slog.Warn("unknown subject", "name", name, "did_you_mean", closest)
				} else {
					slog.Warn("unknown subject", "name", name)
				}
			}
			names = selected
		}

		t := newTable()
		t.AppendHeader(table.Row{"Subject", "Zone", "Desired", "Options", "Generated"})
		for _, name := range names {
			subject := prefs.Subjects[name]
			generated := subject.LastGenerated.Format("2006-01-02 15:04")
			titles := prefs.ZoneTitles(name)
			if len(titles) == 0 {
				t.AppendRow(table.Row{name, "-", "-", "-", generated})
				continue
			}
			for _, title := range titles {
				zone := subject.Zones[title]
				desired := zone.DesiredLabel
				if desired == preferences.Unset {
					desired = fmt.Sprintf("(%s)", preferences.Unset)
				}
				t.AppendRow(table.Row{name, title, desired, strings.Join(zone.Options, "\n"), generated})
			}
			t.AppendSeparator()
		}
		t.Render()
	},
}
