package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lazypower/rapport/internal/engine"
	"github.com/lazypower/rapport/internal/store"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the relationship snapshot as JSON",
	Long: "Write the public relationship snapshot (agent, tier, score, backstory, memorable " +
		"moments) to stdout, or atomically replace --out.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openEngine(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer rt.Close()

		summaries, err := rt.engine.Export(cmd.Context())
		if err != nil {
			return err
		}
		if exportOut == "" {
			return engine.WriteSnapshot(cmd.OutOrStdout(), summaries)
		}
		if err := engine.WriteSnapshotFile(exportOut, summaries); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d relationships to %s\n", len(summaries), exportOut)
		return nil
	},
}

var showRecent int

var showCmd = &cobra.Command{
	Use:   "show [agent]",
	Short: "List relationships, or show one in detail",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openEngine(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer rt.Close()

		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		now := rt.engine.Now()
		if len(args) == 0 {
			rels, err := rt.engine.DB.ListRelationships(ctx)
			if err != nil {
				return err
			}
			printRelationships(out, rels, now)
			return nil
		}

		agent := args[0]
		text, err := rt.engine.Context(ctx, agent)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, text)

		rel, err := rt.engine.Relationship(ctx, agent)
		if errors.Is(err, engine.ErrNotFound) {
			return nil // the context line already says so
		}
		if err != nil {
			return err
		}
		recent, err := rt.engine.RecentInteractions(ctx, agent, showRecent)
		if err != nil {
			return err
		}
		printDetail(out, rel, recent, now)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "write to this file instead of stdout")
	showCmd.Flags().IntVarP(&showRecent, "recent", "n", 10, "recent interactions to list")
}

func ago(ms int64, now time.Time) string {
	return humanize.RelTime(time.UnixMilli(ms), now, "ago", "from now")
}

func printRelationships(w io.Writer, rels []store.Relationship, now time.Time) {
	if len(rels) == 0 {
		fmt.Fprintln(w, "No relationships recorded.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "AGENT\tTIER\tSCORE\tINTERACTIONS\tSTATUS\tLAST SEEN")
	for _, r := range rels {
		label := engine.TierLabel(r.Tier)
		if r.Pinned {
			label += "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%.1f\t%s\t%s\t%s\n", r.AgentID, label, r.EngagementScore,
			humanize.Comma(int64(r.InteractionCount)), r.Status, ago(r.LastInteractionAt, now))
	}
	tw.Flush()
}

func printDetail(w io.Writer, rel *store.Relationship, recent []store.Interaction, now time.Time) {
	fmt.Fprintf(w, "\nscore %.1f over %d interactions (%d kinds), first seen %s\n",
		rel.EngagementScore, rel.InteractionCount, rel.DistinctKinds, ago(rel.FirstInteractionAt, now))
	if rel.BackstoryGeneratedAt != nil {
		fmt.Fprintf(w, "backstory written %s\n", ago(*rel.BackstoryGeneratedAt, now))
	}
	if rel.Arc != "" {
		fmt.Fprintf(w, "arc: %s\n", rel.Arc)
	}
	if len(rel.TopTopics) > 0 {
		fmt.Fprintf(w, "topics: %s\n", strings.Join(rel.TopTopics, ", "))
	}
	if len(recent) == 0 {
		return
	}
	fmt.Fprintln(w, "\nrecent:")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, in := range recent {
		content := in.Content
		if r := []rune(content); len(r) > 80 {
			content = string(r[:77]) + "..."
		}
		fmt.Fprintf(tw, "  %s\t%s\t%g\t%s\n", ago(in.OccurredAt, now), in.Kind, in.Weight, content)
	}
	tw.Flush()
}
