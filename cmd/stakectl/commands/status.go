package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/crowdstaking-org/crowdstaking-platform-sub001/pkg/domain"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
)

var statusCmd = &cobra.Command{
	Use:   "status <proposal-id>",
	Short: "Show a proposal's negotiation and settlement state",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func statusColor(s domain.Status) *color.Color {
	switch s {
	case domain.StatusCompleted:
		return green
	case domain.StatusRejected:
		return red
	case domain.StatusPendingReview, domain.StatusCounterOfferPending:
		return yellow
	default:
		return cyan
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	st := openStore()
	defer st.DB.Close()
	ctx := cmd.Context()

	p, err := st.Get(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("proposal  %s (mission %s)\n", p.ID, p.MissionID)
	fmt.Printf("creator   %s\n", p.CreatorIdentity)
	fmt.Printf("status    %s\n", statusColor(p.Status).Sprint(string(p.Status)))
	fmt.Printf("amount    %d %s", p.RequestedAmount, p.AmountCurrency)
	if p.CounterOfferAmount != nil {
		fmt.Printf("  (counter offer %d, settling for %d)", *p.CounterOfferAmount, p.AgreementAmount())
	}
	fmt.Println()
	if p.ReviewerNotes != "" {
		fmt.Printf("notes     %s\n", p.ReviewerNotes)
	}
	if p.AgreementTxRef != nil {
		fmt.Printf("agreement %s\n", *p.AgreementTxRef)
	}
	if p.WorkConfirmedAt != nil {
		fmt.Printf("confirmed %s\n", p.WorkConfirmedAt.Format("2006-01-02 15:04:05 MST"))
	}
	if p.ReleaseTxRef != nil {
		fmt.Printf("release   %s\n", *p.ReleaseTxRef)
	}

	events, err := st.ListEvents(ctx, p.ID)
	if err != nil {
		return err
	}
	if len(events) > 0 {
		fmt.Println("\nevents:")
		for _, e := range events {
			fmt.Printf("  %s  %-18s %s\n", e.At.Format("2006-01-02 15:04:05"), e.Type, e.ActorID)
		}
	}
	return nil
}
