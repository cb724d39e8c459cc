package commands

import (
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the service schema if it does not exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		st := openStore()
		defer st.DB.Close()
		if err := st.Migrate(cmd.Context()); err != nil {
			return err
		}
		green.Println("schema up to date")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
