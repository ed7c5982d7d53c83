package main

import (
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/ayushrajani07/g6-collector/internal/gating"
)

var (
	gatingIndex string
	gatingRule  string
	gatingLimit int
	gatingJSON  bool
)

var gatingCmd = &cobra.Command{
	Use:   "gating",
	Short: "Inspect canary gating state",
}

var gatingStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recorded gating decisions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		store, err := gating.NewStore(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			return err
		}

		var recs []gating.DecisionRecord
		if gatingIndex == "" && gatingRule == "" {
			recs, err = store.LatestByKey(ctx)
		} else {
			recs, err = store.ListDecisions(ctx, gating.DecisionFilter{
				Index: gatingIndex,
				Rule:  gatingRule,
				Limit: gatingLimit,
			})
		}
		if err != nil {
			return err
		}

		if gatingJSON {
			return printJSON(recs)
		}

		p := message.NewPrinter(language.English)
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		p.Fprintf(w, "INDEX\tRULE\tMODE\tPROMOTE\tREASON\tOK_RATIO\tSTREAK\tWINDOW\tSEVERITY\tAT\n")
		for _, r := range recs {
			p.Fprintf(w, "%s\t%s\t%s\t%v\t%s\t%.3f\t%d\t%d\t%s\t%s\n",
				r.Index, r.Rule, r.Mode, r.Promote, r.Reason,
				r.OkRatio, r.OkStreak, r.WindowSize, r.Severity,
				r.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

func init() {
	gatingStatusCmd.Flags().StringVar(&gatingIndex, "index", "", "filter by index symbol")
	gatingStatusCmd.Flags().StringVar(&gatingRule, "rule", "", "filter by expiry rule")
	gatingStatusCmd.Flags().IntVar(&gatingLimit, "limit", 20, "max decisions to list")
	gatingStatusCmd.Flags().BoolVar(&gatingJSON, "json", false, "emit machine-readable JSON")

	gatingCmd.AddCommand(gatingStatusCmd)
	rootCmd.AddCommand(gatingCmd)
}
