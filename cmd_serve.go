package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"schedgraph/internal/config"
	"schedgraph/internal/progress"
	"schedgraph/server"
)

func newServeCmd() *cobra.Command {
	var dbPath, addr, configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a span database over a read-only JSON API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if dbPath == "" {
				dbPath = os.Getenv("DB_PATH")
			}
			if dbPath == "" {
				return fmt.Errorf("DB path required: set --db or DB_PATH")
			}
			if addr == "" {
				addr = os.Getenv("ADDR")
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}

			log := progress.NewLogger(cmd.ErrOrStderr(), cfg.SlogLevel())
			db, err := server.OpenDB(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			ds, err := server.LoadDataset(cmd.Context(), db)
			if err != nil {
				return err
			}
			app := server.NewApp(ds, server.Options{MaxRows: cfg.Server.MaxRows, Logger: log})
			return app.Serve(cmd.Context(), server.ServeConfig{
				Addr:         addr,
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&dbPath, "db", "", "Span database (can be set via DB_PATH env)")
	f.StringVar(&addr, "addr", "", "Listen address (can be set via ADDR env)")
	f.StringVar(&configPath, "config", "", "YAML configuration file")
	return cmd
}
