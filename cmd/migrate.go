package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quoroomlabs/quoroom/internal/store"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database schema migrations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// Open applies pending migrations before returning.
			st, err := store.Open(cfg.DatabasePath())
			if err != nil {
				return err
			}
			defer st.Close()
			version, dirty, err := st.SchemaVersion()
			if err != nil {
				return err
			}
			if dirty {
				return fmt.Errorf("schema version %d is dirty", version)
			}
			fmt.Printf("Schema at version %d.\n", version)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.DatabasePath())
			if err != nil {
				return err
			}
			defer st.Close()
			version, dirty, err := st.SchemaVersion()
			if err != nil {
				return err
			}
			state := "clean"
			if dirty {
				state = "dirty"
			}
			fmt.Printf("Schema version %d (%s), database %s\n", version, state, cfg.DatabasePath())
			return nil
		},
	})
	return cmd
}
