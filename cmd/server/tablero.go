package main

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/afectaciones-engine/api"
	"github.com/warp/afectaciones-engine/config"
	"github.com/warp/afectaciones-engine/organica"
	"github.com/warp/afectaciones-engine/quincena"
)

func newTableroCmd() *cobra.Command {
	var (
		anio, numero int
		unidades     []string
	)

	cmd := &cobra.Command{
		Use:   "tablero",
		Short: "Print the dashboard of a quincena as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.DefaultEnvFiles...)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			q := quincena.For(time.Now())
			if anio != 0 || numero != 0 {
				if q, err = quincena.New(anio, numero); err != nil {
					return err
				}
			}

			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			h := api.NewHandler(store, api.Options{
				DashboardConcurrency: cfg.Engine.DashboardConcurrency,
				Logger:               cfg.Logger(),
			})

			keys := make([]organica.Key, len(unidades))
			for i, u := range unidades {
				keys[i] = organica.NewKey(strings.Split(u, "/")...)
			}

			board, err := h.Dashboard.Tablero(ctx, keys, q)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(board)
		},
	}
	cmd.Flags().IntVar(&anio, "anio", 0, "year (defaults to the current quincena)")
	cmd.Flags().IntVar(&numero, "quincena", 0, "quincena number 1..24")
	cmd.Flags().StringArrayVar(&unidades, "unidad", nil, "unit as org0/org1/org2/org3, repeatable")
	return cmd
}
