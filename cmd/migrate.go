package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/cedarmint/cedar/config"
	"github.com/cedarmint/cedar/database"
)

// migrateCommands creates the schema bootstrap command. Table creation
// is idempotent, so running it against an existing database is safe.
func migrateCommands() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "create the cedar schema and tables",
		Run: func(cmd *cobra.Command, args []string) {
			cnf, err := config.Fetch()
			if err != nil {
				log.Printf("Error fetching config: %v", err)
				return
			}

			if _, err := database.NewDataSource(cnf); err != nil {
				log.Printf("Error migrating: %v", err)
				return
			}
			fmt.Println("Schema is up to date.")
		},
	}

	return cmd
}
