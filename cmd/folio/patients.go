package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/healthfolio/folio/internal/cli"
)

func patientsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "patients",
		Short: "List patients on the account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}

			patients, err := client.GetPatients(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to load patients: %w", err)
			}
			if len(patients) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("No patients on this account."))
				return nil
			}

			for _, p := range patients {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s  %s\n", cli.SubtleStyle.Render(p.ID), p.Name)
			}
			return nil
		},
	}
}
