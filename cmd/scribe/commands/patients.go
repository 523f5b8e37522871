package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/types"
)

func newPatientsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patients",
		Short: "Search, create and delete patients",
	}
	cmd.AddCommand(
		newPatientsSearchCmd(opts),
		newPatientsCreateCmd(opts),
		newPatientsDeleteCmd(opts),
	)
	return cmd
}

func newPatientsSearchCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search [term]",
		Short: "Search patients by name, MRN or email",
		Long: `Search your patients. Without a term every active patient is listed.

Examples:
  scribe patients search smith
  scribe patients search MRN-0042 --limit 5`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if err := e.requireToken(); err != nil {
				return err
			}

			term := ""
			if len(args) == 1 {
				term = args[0]
			}
			result, err := e.api.SearchPatients(cmd.Context(), term, limit)
			if err != nil {
				return err
			}

			if opts.format == "json" {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			if result.Count == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No patients found")
				if result.OfferCreate {
					fmt.Fprintf(cmd.OutOrStdout(), "Create one with: scribe patients create --name %q\n", term)
				}
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tDOB\tMRN\tENCOUNTERS\tLAST ENCOUNTER")
			for _, p := range result.Patients {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
					p.PatientID, truncate(p.PatientName, 30), p.DateOfBirth,
					p.MedicalRecordNumber, p.EncounterCount, p.LastEncounterDate)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 10, "maximum number of patients")
	return cmd
}

func newPatientsCreateCmd(opts *rootOptions) *cobra.Command {
	var fields types.PatientFields

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a patient",
		Long: `Create a patient owned by the signed-in provider.

Examples:
  scribe patients create --name "Jane Doe" --dob 1980-04-02 --mrn MRN-0042`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if err := e.requireToken(); err != nil {
				return err
			}

			patient, err := e.api.CreatePatient(cmd.Context(), fields)
			if err != nil {
				return err
			}
			if opts.format == "json" {
				return writeJSON(cmd.OutOrStdout(), patient)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created patient %s (%s)\n", patient.PatientName, patient.PatientID)
			return nil
		},
	}

	cmd.Flags().StringVar(&fields.PatientName, "name", "", "patient name")
	cmd.Flags().StringVar(&fields.DateOfBirth, "dob", "", "date of birth (YYYY-MM-DD)")
	cmd.Flags().StringVar(&fields.MedicalRecordNumber, "mrn", "", "medical record number")
	cmd.Flags().StringVar(&fields.Email, "email", "", "email address")
	cmd.Flags().StringVar(&fields.Phone, "phone", "", "phone number")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newPatientsDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <patient-id>",
		Short: "Deactivate a patient",
		Long:  `Deactivate a patient. The record is kept but no longer appears in search.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if err := e.requireToken(); err != nil {
				return err
			}
			if err := e.api.DeletePatient(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted patient %s\n", args[0])
			return nil
		},
	}
}
