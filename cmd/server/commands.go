package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"intake/pkg/requestcontext"
)

func bootstrapCmd() *cobra.Command {
	var ensureRepo bool
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Create index collections, reseed reference data and check the repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.Bootstrap(ctx); err != nil {
				return err
			}
			a.log.Info("index bootstrapped")
			if !ensureRepo {
				return nil
			}
			repo, err := a.vcs.EnsureRepository(ctx)
			if err != nil {
				return err
			}
			a.log.Info("repository ready", "repository", repo.FullName, "default_branch", repo.DefaultBranch)
			return nil
		},
	}
	cmd.Flags().BoolVar(&ensureRepo, "ensure-repo", true, "create the contacts repository if it does not exist")
	return cmd
}

func resyncCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "resync <record-id>",
		Short: "Re-run propagation and notification for an indexed record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := requestcontext.WithActor(cmd.Context(), actor)
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.orchestrator.Resync(ctx, args[0])
			if res != nil {
				out, _ := json.MarshalIndent(res, "", "  ")
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
			}
			return err
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "cli", "actor recorded in logs")
	return cmd
}
