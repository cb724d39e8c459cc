package commands

import (
	"github.com/spf13/cobra"
)

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Write an already-mined transaction reference into the local record",
	Long: `Repair closes a reconciliation gap by performing only the local half of a
settlement: the tx reference passed in must already be mined on chain
(take it from 'stakectl gaps list'). No chain call is made.`,
}

var repairAgreementCmd = &cobra.Command{
	Use:   "agreement <proposal-id> <tx-ref>",
	Short: "Record an agreement-creation transaction and advance to work_in_progress",
	Args:  cobra.ExactArgs(2),
	RunE:  runRepairAgreement,
}

var repairReleaseCmd = &cobra.Command{
	Use:   "release <proposal-id> <tx-ref>",
	Short: "Record a release transaction and complete the proposal",
	Args:  cobra.ExactArgs(2),
	RunE:  runRepairRelease,
}

func init() {
	repairCmd.AddCommand(repairAgreementCmd)
	repairCmd.AddCommand(repairReleaseCmd)
	rootCmd.AddCommand(repairCmd)
}

func runRepairAgreement(cmd *cobra.Command, args []string) error {
	st := openStore()
	defer st.DB.Close()

	res, err := openCoordinator(st).RepairAgreement(cmd.Context(), args[0], "stakectl", args[1])
	if err != nil {
		return err
	}
	green.Printf("proposal %s now %s (agreement %s)\n", args[0], res.Proposal.Status, res.TxRef)
	return nil
}

func runRepairRelease(cmd *cobra.Command, args []string) error {
	st := openStore()
	defer st.DB.Close()

	res, err := openCoordinator(st).RepairRelease(cmd.Context(), args[0], "stakectl", args[1])
	if err != nil {
		return err
	}
	green.Printf("proposal %s now %s (release %s)\n", args[0], res.Proposal.Status, res.TxRef)
	return nil
}
