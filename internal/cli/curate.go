package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lazypower/rapport/internal/engine"
	"github.com/lazypower/rapport/internal/store"
)

var (
	unpin   bool
	pinTier int
)

var pinCmd = &cobra.Command{
	Use:   "pin <agent>",
	Short: "Pin a relationship so decay never demotes it",
	Long: `Pin a relationship so decay never demotes it. With --tier the relationship is
also placed at that tier by hand, e.g. --tier 4 to seed the inner circle.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openEngine(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer rt.Close()

		var rel *store.Relationship
		switch {
		case pinTier != 0 && unpin:
			return fmt.Errorf("--tier cannot be combined with --off")
		case pinTier != 0:
			rel, err = rt.engine.PinAtTier(cmd.Context(), args[0], pinTier)
		default:
			rel, err = rt.engine.Pin(cmd.Context(), args[0], !unpin)
		}
		if err != nil {
			return err
		}
		state := "pinned"
		if !rel.Pinned {
			state = "unpinned"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (tier %d, %s)\n", rel.AgentID, state, rel.Tier, engine.TierLabel(rel.Tier))
		return nil
	},
}

var classifyCmd = &cobra.Command{
	Use:   "classify <agent> <class>",
	Short: "Label a relationship; bot and spammer cap automatic promotion",
	Long: `Label a relationship with a short class such as quality, rival, bot or spammer.
"bot" and "spammer" stop automatic promotion past acquaintance. Pass "" to clear.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openEngine(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer rt.Close()

		rel, err := rt.engine.Classify(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		class := rel.Classification
		if class == "" {
			class = "unclassified"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", rel.AgentID, class)
		return nil
	},
}

func init() {
	pinCmd.Flags().BoolVar(&unpin, "off", false, "remove the pin")
	pinCmd.Flags().IntVar(&pinTier, "tier", 0, "also set the tier by hand (1-4)")
}
