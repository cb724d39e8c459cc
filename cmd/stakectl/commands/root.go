package commands

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/crowdstaking-org/crowdstaking-platform-sub001/internal/settle"
	"github.com/crowdstaking-org/crowdstaking-platform-sub001/internal/store"
	"github.com/crowdstaking-org/crowdstaking-platform-sub001/pkg/db"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "stakectl",
	Short: "Operator tooling for the proposal settlement service",
	Long: `stakectl inspects and repairs proposal negotiation and settlement state
directly against the service database.

Its main job is closing reconciliation gaps: cases where an escrow
transaction was mined on chain but the local record of it failed to
persist. Repair commands only ever perform the local write with an
already-mined transaction reference; they never talk to the chain, so
replaying them cannot move funds twice.

Requires DATABASE_URL.`,
	SilenceUsage: true,
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

// openStore connects to the service database.
func openStore() *store.Store {
	return store.New(db.MustConnect())
}

// openCoordinator builds a chain-less coordinator: enough for the repair
// operations, which only perform local writes.
func openCoordinator(st *store.Store) *settle.Coordinator {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	return settle.New(st, nil, "", quiet)
}
