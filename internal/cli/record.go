package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/rapport/internal/client"
	"github.com/lazypower/rapport/internal/engine"
	"github.com/lazypower/rapport/internal/events"
	"github.com/lazypower/rapport/internal/store"
)

var (
	recordEventID     string
	recordDisplayName string
	recordContent     string
	recordWeight      float64
	recordAt          string
	recordLocal       bool
)

var recordCmd = &cobra.Command{
	Use:   "record <agent> <kind>",
	Short: "Record one interaction",
	Long: "Record one interaction with an agent (platform:handle). Kinds: mention, reply, " +
		"like_received, like_given, follow, tip, quote, repost. Goes through a running " +
		"server when one answers, otherwise writes to the database directly.",
	Args: cobra.ExactArgs(2),
	RunE: runRecord,
}

func init() {
	f := recordCmd.Flags()
	f.StringVar(&recordEventID, "event-id", "", "platform post id (generated when empty)")
	f.StringVar(&recordDisplayName, "name", "", "display name")
	f.StringVarP(&recordContent, "content", "m", "", "message text")
	f.Float64Var(&recordWeight, "weight", 0, "signal weight (default: configured weight for the kind)")
	f.StringVar(&recordAt, "at", "", "when it happened, RFC 3339 (default: now)")
	f.BoolVar(&recordLocal, "local", false, "skip the server and write to the database directly")
}

func runRecord(cmd *cobra.Command, args []string) error {
	ev := engine.Event{
		EventID:     recordEventID,
		AgentID:     args[0],
		DisplayName: recordDisplayName,
		Kind:        store.Kind(args[1]),
		Content:     recordContent,
	}
	if cmd.Flags().Changed("weight") {
		w := recordWeight
		ev.Weight = &w
	}
	if recordAt != "" {
		at, err := time.Parse(time.RFC3339, recordAt)
		if err != nil {
			return fmt.Errorf("--at: %w", err)
		}
		ev.OccurredAt = at
	}

	ctx := cmd.Context()
	if !recordLocal {
		if c := client.New(); c.Healthy(ctx) {
			rel, err := c.Record(ctx, ev)
			if err != nil {
				return err
			}
			printRecorded(cmd.OutOrStdout(), rel.Agent, rel.Tier, rel.TierLabel, rel.Score, rel.Interactions)
			return nil
		}
	}

	rt, err := openEngine(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	rel, err := rt.engine.Record(ctx, ev)
	if err != nil {
		return err
	}
	printRecorded(cmd.OutOrStdout(), rel.AgentID, rel.Tier, engine.TierLabel(rel.Tier), rel.EngagementScore, rel.InteractionCount)
	return nil
}

func printRecorded(w io.Writer, agent string, tier int, label string, score float64, n int) {
	fmt.Fprintf(w, "%s: tier %d (%s), score %.1f, %d interactions\n", agent, tier, label, score, n)
}

var importCmd = &cobra.Command{
	Use:   "import <file.jsonl>",
	Short: "Backfill interactions from a JSONL event file",
	Long: "Backfill interactions from a file with one JSON event per line. Events that were " +
		"already recorded are skipped, so an import can be re-run safely.",
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	evs, st, err := events.ParseFile(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	rt, err := openEngine(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	res, err := importEvents(ctx, rt.engine, evs)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d, duplicates %d, rejected %d, malformed lines %d\n",
		res.recorded, res.duplicates, res.rejected, st.Skipped)
	return nil
}

type importResult struct {
	recorded, duplicates, rejected int
}

// importEvents records evs in order. Invalid events are counted and skipped;
// a storage failure stops the import.
func importEvents(ctx context.Context, eng *engine.Engine, evs []engine.Event) (importResult, error) {
	var res importResult
	before := eng.Stats()
	for _, ev := range evs {
		if _, err := eng.Record(ctx, ev); err != nil {
			if isValidation(err) {
				res.rejected++
				continue
			}
			return res, fmt.Errorf("import stopped after %d events: %w", res.recorded+res.duplicates, err)
		}
		after := eng.Stats()
		if after.Duplicates > before.Duplicates {
			res.duplicates++
		} else {
			res.recorded++
		}
		before = after
	}
	return res, nil
}
