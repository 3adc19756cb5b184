package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchyard/internal/db"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBMigrateCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the database if needed and migrate all tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBMigrate(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runDBMigrate(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return err
	}
	dc := cfg.Database

	if dc.Driver == "mysql" {
		adminDB, err := db.ConnectAdmin(dc)
		if err != nil {
			return fmt.Errorf("connect to %s:%d: %w", dc.Host, dc.Port, err)
		}
		fmt.Fprintf(out, "Connected to %s:%d\n", dc.Host, dc.Port)
		err = db.CreateDatabase(adminDB, dc.Database)
		if sqlDB, derr := adminDB.DB(); derr == nil {
			sqlDB.Close()
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Database %s ready\n", dc.Database)
	}

	gormDB, err := db.Open(dc)
	if err != nil {
		return err
	}
	if sqlDB, err := gormDB.DB(); err == nil {
		defer sqlDB.Close()
	}

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))
	return nil
}
