package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/types"
)

func newSettingsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show and change provider settings",
	}
	cmd.AddCommand(
		newSettingsShowCmd(opts),
		newSettingsSaveCmd(opts),
		newSettingsResetCmd(opts),
		newTemplateToggleCmd(opts, "disable-template", "Disable a note template", false),
		newTemplateToggleCmd(opts, "enable-template", "Enable a note template", true),
	)
	return cmd
}

func newSettingsShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current settings",
		Long: `Show the current settings. When the API is unreachable the copy kept on
this device is shown instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.load(cmd)
			if err != nil {
				return err
			}
			store, local, err := e.settingsStore()
			if err != nil {
				return err
			}
			defer local.Close()

			prefs := store.Load(cmd.Context())
			if err := store.LastError(); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: API unavailable, showing the local copy (%v)\n", err)
			}
			return writeJSON(cmd.OutOrStdout(), prefs)
		},
	}
}

func newSettingsSaveCmd(opts *rootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "save",
		Short: "Save settings from a JSON file",
		Long: `Save settings from a JSON file. Fields missing from the file take their
default values. When the API rejects or cannot take the write, the settings
are still kept on this device and a warning is printed.

Examples:
  scribe settings save --file settings.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading settings file: %w", err)
			}
			prefs := types.DefaultPreferences()
			if err := json.Unmarshal(data, &prefs); err != nil {
				return fmt.Errorf("parsing settings file: %w", err)
			}

			e, err := opts.load(cmd)
			if err != nil {
				return err
			}
			store, local, err := e.settingsStore()
			if err != nil {
				return err
			}
			defer local.Close()

			return reportSave(cmd, store.Save(cmd.Context(), prefs), store.LastError())
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "settings JSON file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newSettingsResetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Reset settings to their defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.load(cmd)
			if err != nil {
				return err
			}
			store, local, err := e.settingsStore()
			if err != nil {
				return err
			}
			defer local.Close()

			if _, err := store.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Settings reset to defaults")
			return nil
		},
	}
}

func newTemplateToggleCmd(opts *rootOptions, use, short string, enable bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <template>",
		Short: short,
		Long: fmt.Sprintf(`%s. Known templates: %v.
At least one template always stays enabled.`, short, types.KnownTemplates),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.load(cmd)
			if err != nil {
				return err
			}
			store, local, err := e.settingsStore()
			if err != nil {
				return err
			}
			defer local.Close()

			current := store.Load(cmd.Context())
			template := types.NoteTemplate(args[0])

			toggle := store.DisableTemplate
			if enable {
				toggle = store.EnableTemplate
			}
			updated, saved, err := toggle(cmd.Context(), current, template)
			if err != nil {
				return err
			}
			if err := reportSave(cmd, saved, store.LastError()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Enabled templates: %v (default %s)\n", updated.EnabledTemplates, updated.DefaultTemplate)
			return nil
		},
	}
}

// reportSave turns a Save result into output. Validation failures are
// errors; a failed remote write only warns because the local copy was kept.
func reportSave(cmd *cobra.Command, saved bool, lastErr error) error {
	if saved {
		fmt.Fprintln(cmd.OutOrStdout(), "Settings saved")
		return nil
	}
	if types.IsValidation(lastErr) {
		return lastErr
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "warning: settings kept on this device only, the API did not accept them (%v)\n", lastErr)
	return nil
}
