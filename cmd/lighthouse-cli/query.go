package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lighthouse-coord/lighthouse/internal/eventstore"
	"github.com/lighthouse-coord/lighthouse/internal/identity"
)

var (
	queryAggregateID string
	queryEventType   string
	queryFrom        uint64
	queryTo          uint64
	queryLimit       int
	queryCursor      string
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "event.query — page through the event log (§6)",
	Long: `Opens the data directory's event log directly (read path only) and
issues one eventstore.Query call, authorized as the identity named by
--as-agent-id/--as-role exactly as the core would authorize a remote
caller — this command has no authorization logic of its own.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStoreReadPath()
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		filter := eventstore.QueryFilter{
			AggregateID:  queryAggregateID,
			SequenceFrom: eventstore.Sequence(queryFrom),
			SequenceTo:   eventstore.Sequence(queryTo),
			Limit:        queryLimit,
			Cursor:       queryCursor,
		}
		if queryEventType != "" {
			filter.EventTypes = []eventstore.EventType{eventstore.EventType(queryEventType)}
		}

		page, err := store.Query(context.Background(), filter, callerIdentity())
		if err != nil {
			return fmt.Errorf("event.query: %w", err)
		}

		if jsonOutput {
			return printJSON(page)
		}
		for _, ev := range page.Events {
			fmt.Printf("%d\t%s\t%s\t%s\n", ev.Sequence, ev.EventType, ev.AggregateID, ev.AgentID)
		}
		if page.HasMore {
			fmt.Printf("-- more available, cursor=%s\n", page.NextCursor)
		}
		return nil
	},
}

func init() {
	queryCmd.Flags().StringVar(&queryAggregateID, "aggregate-id", "", "exact aggregate_id match")
	queryCmd.Flags().StringVar(&queryEventType, "event-type", "", "restrict to a single event_type")
	queryCmd.Flags().Uint64Var(&queryFrom, "from", 0, "inclusive sequence lower bound (0 = start)")
	queryCmd.Flags().Uint64Var(&queryTo, "to", 0, "inclusive sequence upper bound (0 = unbounded)")
	queryCmd.Flags().IntVar(&queryLimit, "limit", 100, "page size")
	queryCmd.Flags().StringVar(&queryCursor, "cursor", "", "resume cursor from a prior page")
	rootCmd.AddCommand(queryCmd)
}

// openStoreReadPath opens the event log with the configured auth
// secret. eventstore.Open always verifies (and, on corruption,
// truncates) the hash chain on open — there is no separate "read-only"
// constructor, so a CLI query pays the same integrity-check cost a
// daemon restart would.
func openStoreReadPath() (*eventstore.Store, error) {
	if authSecret == "" {
		return nil, fmt.Errorf("--auth-secret (or LIGHTHOUSE_AUTH_SECRET) is required to open the event log")
	}
	return eventstore.Open(filepath.Join(dataDir, "log", "0000.dat"), eventstore.Options{
		Secret: []byte(authSecret),
	})
}

// callerIdentity builds the identity.Identity the read-path commands
// authorize as. lighthouse-cli never invents permissions: it looks up
// the fixed role table exactly as the daemon does for any other caller.
func callerIdentity() identity.Identity {
	agentID := asAgentID
	if agentID == "" {
		agentID = "lighthouse-cli"
	}
	return identity.NewIdentity(agentID, identity.Role(asRole))
}
