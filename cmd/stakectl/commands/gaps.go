package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var gapsAll bool

var gapsCmd = &cobra.Command{
	Use:   "gaps",
	Short: "Inspect reconciliation gaps",
}

var gapsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reconciliation gaps (open ones by default)",
	RunE:  runGapsList,
}

var gapsResolveCmd = &cobra.Command{
	Use:   "resolve <gap-id>",
	Short: "Mark a gap resolved after verifying the record manually",
	Args:  cobra.ExactArgs(1),
	RunE:  runGapsResolve,
}

func init() {
	gapsListCmd.Flags().BoolVar(&gapsAll, "all", false, "include resolved gaps")
	gapsCmd.AddCommand(gapsListCmd)
	gapsCmd.AddCommand(gapsResolveCmd)
	rootCmd.AddCommand(gapsCmd)
}

func runGapsList(cmd *cobra.Command, args []string) error {
	st := openStore()
	defer st.DB.Close()

	gaps, err := st.ListGaps(cmd.Context(), gapsAll)
	if err != nil {
		return err
	}
	if len(gaps) == 0 {
		green.Println("no reconciliation gaps")
		return nil
	}
	for _, g := range gaps {
		state := red.Sprint("OPEN")
		if g.ResolvedAt != nil {
			state = green.Sprint("resolved")
		}
		fmt.Printf("%s  %-8s %-16s proposal=%s tx=%s\n  %s\n",
			g.CreatedAt.Format("2006-01-02 15:04:05"), state, g.Phase, g.ProposalID, g.TxRef, g.Detail)
		fmt.Printf("  gap id: %s\n", g.GapID)
	}
	return nil
}

func runGapsResolve(cmd *cobra.Command, args []string) error {
	st := openStore()
	defer st.DB.Close()

	if err := st.ResolveGap(cmd.Context(), args[0]); err != nil {
		return err
	}
	green.Printf("gap %s resolved\n", args[0])
	return nil
}
