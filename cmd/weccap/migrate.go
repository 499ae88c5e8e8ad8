package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/weccap/internal/db"
)

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateStatusCmd)
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the history database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		d, err := db.OpenDB(cfg.DBPath)
		if err != nil {
			return err
		}
		defer d.Close()
		if err := d.MigrateUp(); err != nil {
			return err
		}
		return printStatus(cmd, d)
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current and latest schema versions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		d, err := db.OpenDB(cfg.DBPath)
		if err != nil {
			return err
		}
		defer d.Close()
		return printStatus(cmd, d)
	},
}

func printStatus(cmd *cobra.Command, d *db.DB) error {
	st, err := d.GetMigrationStatus()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "database: %s\n", d.Path())
	fmt.Fprintf(out, "current:  %d\n", st.CurrentVersion)
	fmt.Fprintf(out, "latest:   %d\n", st.LatestVersion)
	if st.Dirty {
		fmt.Fprintln(out, "state:    dirty")
	} else if st.Pending() {
		fmt.Fprintf(out, "state:    %d pending\n", st.LatestVersion-st.CurrentVersion)
	} else {
		fmt.Fprintln(out, "state:    up to date")
	}
	return nil
}
