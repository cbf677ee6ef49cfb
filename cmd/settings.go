package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blive-rec/blive/internal/config"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, _, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			metadata := config.GetSettingsMetadata()
			for _, category := range config.CategoryOrder() {
				fmt.Fprintf(out, "[%s]\n", category)
				values := settings.Values(category)
				for _, meta := range metadata[category] {
					fmt.Fprintf(out, "  %-22s %s\n", meta.Key, config.FormatValue(values[meta.Key], meta.Type))
				}
			}
			return nil
		},
	}

	get := &cobra.Command{
		Use:   "get KEY",
		Short: "Print one setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, _, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			value, ok := settings.Get(args[0])
			if !ok {
				return fmt.Errorf("unknown setting %q", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), config.FormatEditable(value))
			return nil
		},
	}

	set := &cobra.Command{
		Use:     "set KEY VALUE",
		Short:   "Change one setting",
		Example: "  blive settings set max_part_size 2GiB\n  blive settings set delay 10s",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, path, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			if err := settings.Set(args[0], args[1]); err != nil {
				return err
			}
			return config.SaveSettingsTo(path, settings)
		},
	}

	reset := &cobra.Command{
		Use:   "reset KEY",
		Short: "Restore one setting to its default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, path, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			if err := settings.Reset(args[0]); err != nil {
				return err
			}
			return config.SaveSettingsTo(path, settings)
		},
	}

	path := &cobra.Command{
		Use:   "path",
		Short: "Print the settings file location",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), settingsPath(cmd))
		},
	}

	cmd.AddCommand(get, set, reset, path)
	return cmd
}
