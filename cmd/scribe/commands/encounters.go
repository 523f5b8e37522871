package commands

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/amz-sunilvbs/aws-healthscribe-demo/internal/client"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/types"
)

func newEncountersCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "encounters",
		Short: "Submit and inspect encounter recordings",
	}
	cmd.AddCommand(
		newEncountersSubmitCmd(opts),
		newEncountersListCmd(opts),
		newEncountersGetCmd(opts),
	)
	return cmd
}

func newEncountersSubmitCmd(opts *rootOptions) *cobra.Command {
	var (
		upload   client.EncounterUpload
		template string
		quiet    bool
	)

	cmd := &cobra.Command{
		Use:   "submit <audio-file>",
		Short: "Upload a recording and start a transcription job",
		Long: `Upload an encounter recording and start a clinical transcription job.
Without --template the default template from your settings is used.

Examples:
  scribe encounters submit visit.wav --patient-id p-123 --patient-name "Jane Doe"
  scribe encounters submit visit.mp3 --patient-name "Jane Doe" --template DAP`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if err := e.requireToken(); err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening audio file: %w", err)
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return fmt.Errorf("reading audio file: %w", err)
			}

			upload.Filename = args[0]
			upload.Size = info.Size()
			upload.Audio = f
			upload.NoteTemplate = types.NoteTemplate(template)

			var progress client.ProgressFunc
			if !quiet {
				progress = progressPrinter(cmd.ErrOrStderr())
			}
			encounter, err := e.api.SubmitEncounter(cmd.Context(), upload, progress)
			if !quiet {
				fmt.Fprintln(cmd.ErrOrStderr())
			}
			if err != nil {
				return err
			}

			if opts.format == "json" {
				return writeJSON(cmd.OutOrStdout(), encounter)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Submitted encounter %s (job %s, template %s, status %s)\n",
				encounter.EncounterID, encounter.JobName, encounter.NoteTemplate, encounter.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&upload.PatientID, "patient-id", "", "patient the encounter belongs to")
	cmd.Flags().StringVar(&upload.PatientName, "patient-name", "", "patient name shown on the encounter")
	cmd.Flags().StringVar(&upload.JobName, "job-name", "", "transcription job name")
	cmd.Flags().StringVarP(&template, "template", "t", "", "note template")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print upload progress")
	return cmd
}

// progressPrinter reports upload progress on a single line
func progressPrinter(w io.Writer) client.ProgressFunc {
	last := -1
	return func(sent, total int64) {
		if total <= 0 {
			return
		}
		pct := int(sent * 100 / total)
		if pct == last {
			return
		}
		last = pct
		fmt.Fprintf(w, "\rUploading... %3d%%", pct)
	}
}

func newEncountersListCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent encounters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if err := e.requireToken(); err != nil {
				return err
			}

			encounters, err := e.api.ListEncounters(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if opts.format == "json" {
				return writeJSON(cmd.OutOrStdout(), encounters)
			}
			if len(encounters) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No encounters found")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPATIENT\tTEMPLATE\tSTATUS\tCREATED")
			for _, enc := range encounters {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					enc.EncounterID, truncate(enc.PatientName, 30), enc.NoteTemplate, enc.Status, enc.CreatedAt)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "maximum number of encounters")
	return cmd
}

func newEncountersGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <encounter-id>",
		Short: "Show one encounter and its job status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if err := e.requireToken(); err != nil {
				return err
			}

			encounter, err := e.api.GetEncounter(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.format == "json" {
				return writeJSON(cmd.OutOrStdout(), encounter)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Encounter:\t%s\n", encounter.EncounterID)
			fmt.Fprintf(w, "Patient:\t%s\n", encounter.PatientName)
			fmt.Fprintf(w, "Job:\t%s\n", encounter.JobName)
			fmt.Fprintf(w, "Template:\t%s\n", encounter.NoteTemplate)
			fmt.Fprintf(w, "Status:\t%s\n", encounter.Status)
			fmt.Fprintf(w, "Audio:\t%s\n", encounter.AudioURI)
			if encounter.TranscriptURI != "" {
				fmt.Fprintf(w, "Transcript:\t%s\n", encounter.TranscriptURI)
			}
			if encounter.ClinicalNotesURI != "" {
				fmt.Fprintf(w, "Clinical notes:\t%s\n", encounter.ClinicalNotesURI)
			}
			if encounter.FailureReason != "" {
				fmt.Fprintf(w, "Failure:\t%s\n", encounter.FailureReason)
			}
			fmt.Fprintf(w, "Created:\t%s\n", encounter.CreatedAt)
			return w.Flush()
		},
	}
}
