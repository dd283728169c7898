package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrywu96/AniverseGateway-sub001/internal/db"
	"github.com/harrywu96/AniverseGateway-sub001/internal/profile"
	"github.com/harrywu96/AniverseGateway-sub001/internal/subtitle/translate"
)

func newModelsCommand(ctx *commandContext) *cobra.Command {
	var profileName string

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List models offered by the default backend or a stored profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			var store profile.Store
			if profileName != "" {
				database, err := db.NewSQLite(cfg.Server.DBPath)
				if err != nil {
					return fmt.Errorf("open database: %w", err)
				}
				defer database.Close()
				store = database
			}
			backend, _, err := profile.NewProvider(store, providerDefaults(cfg)).Resolve(profile.Selection{ProfileName: profileName})
			if err != nil {
				return err
			}
			adapter, err := translate.New(backend, translate.WithLogger(logger))
			if err != nil {
				return err
			}
			lister, ok := adapter.(translate.ModelLister)
			if !ok {
				return fmt.Errorf("%s backends do not support model discovery", adapter.Kind())
			}
			models, err := lister.ListModels(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(models) == 0 {
				fmt.Fprintln(out, "No models available")
				return nil
			}
			rows := make([][]string, 0, len(models))
			for _, m := range models {
				marker := ""
				if m.ID == backend.Model {
					marker = "*"
				}
				rows = append(rows, []string{marker, m.ID, m.DisplayName, m.Description})
			}
			fmt.Fprintln(out, renderTable([]string{"", "ID", "Name", "Description"}, rows, nil))
			return nil
		},
	}
	cmd.Flags().StringVarP(&profileName, "profile", "p", "", "Stored backend profile to query")
	return cmd
}
