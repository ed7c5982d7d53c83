package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/ayushrajani07/g6-collector/internal/gating"
	"github.com/ayushrajani07/g6-collector/internal/model"
	"github.com/ayushrajani07/g6-collector/internal/monitoring"
	"github.com/ayushrajani07/g6-collector/internal/parity"
	"github.com/ayushrajani07/g6-collector/internal/shadow"
)

var (
	shadowJSON    bool
	shadowRecord  bool
	shadowCycleID string
	shadowIndex   string
	shadowRule    string
)

var shadowCmd = &cobra.Command{
	Use:   "shadow",
	Short: "Shadow-run comparison between legacy and candidate collectors",
}

var shadowCompareCmd = &cobra.Command{
	Use:   "compare <legacy.json> <candidate.json>",
	Short: "Compare two run-result dumps and update the gating state",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		legacy, err := loadRunResult(args[0])
		if err != nil {
			return err
		}
		candidate, err := loadRunResult(args[1])
		if err != nil {
			return err
		}

		cycleID := shadowCycleID
		if cycleID == "" {
			cycleID = legacy.CycleID
		}
		if cycleID == "" {
			cycleID = uuid.New().String()
		}

		// Reduce, hash, and diff both runs.
		redLegacy := parity.Reduce(legacy)
		redCandidate := parity.Reduce(candidate)
		sigLegacy := parity.Signature(redLegacy)
		sigCandidate := parity.Signature(redCandidate)
		diffs := parity.Diff(redLegacy, redCandidate, parity.DefaultRelTol, parity.DefaultAbsTol)
		sum := parity.Summarize(diffs, cfg.Gating.ProtectedFields)

		// Shallow shadow report for operators and alerting.
		rep := shadow.Compare(legacy, candidate)
		rep.CycleID = cycleID

		// Gating decision, rehydrated from recorded history.
		dec, err := decideWithHistory(ctx, cycleID, rep, sum, sigLegacy, sigCandidate)
		if err != nil {
			return err
		}

		alerter := monitoring.NewAlerter(cfg.Monitoring)
		alerts := alerter.Evaluate(rep, diffs, sum)
		if err := alerter.Send(ctx, alerts); err != nil {
			zap.L().Warn("shadow: alert delivery failed", zap.Error(err))
		}

		if shadowJSON {
			return printJSON(map[string]any{
				"cycle_id":            cycleID,
				"signature_legacy":    sigLegacy,
				"signature_candidate": sigCandidate,
				"match":               sigLegacy == sigCandidate,
				"diffs":               diffs,
				"report":              rep,
				"decision":            dec,
				"alerts":              alerts,
			})
		}

		printReport(cycleID, sigLegacy, sigCandidate, diffs, rep, dec)
		return nil
	},
}

// decideWithHistory seeds a fresh engine for the decision key from the
// decision store, decides, and records the outcome when requested.
func decideWithHistory(ctx context.Context, cycleID string, rep *shadow.Report, sum parity.Summary, sigLegacy, sigCandidate string) (gating.Decision, error) {
	engine := gating.NewEngine(cfg.Gating)
	ev := gating.Evidence{DiffCount: sum.DiffCount, Fields: sum.Fields}

	if !shadowRecord {
		return engine.Decide(shadowIndex, shadowRule, ev), nil
	}

	store, err := gating.NewStore(cfg.Store.Path)
	if err != nil {
		return gating.Decision{}, err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return gating.Decision{}, err
	}

	oks, protectedSeen, err := store.History(ctx, shadowIndex, shadowRule, cfg.Gating.WindowSize)
	if err != nil {
		return gating.Decision{}, err
	}
	engine.Seed(shadowIndex, shadowRule, oks, protectedSeen)

	dec := engine.Decide(shadowIndex, shadowRule, ev)

	rec := gating.DecisionRecord{
		CycleID:            cycleID,
		Index:              dec.Index,
		Rule:               dec.Rule,
		Mode:               dec.Mode,
		Promote:            dec.Promote,
		Reason:             dec.Reason,
		OkRatio:            dec.OkRatio,
		OkStreak:           dec.OkStreak,
		WindowSize:         dec.WindowSize,
		DiffCount:          dec.DiffCount,
		ProtectedDiff:      dec.ProtectedDiff,
		Severity:           string(rep.Severity),
		SignatureLegacy:    sigLegacy,
		SignatureCandidate: sigCandidate,
	}
	if _, err := store.RecordDecision(ctx, rec); err != nil {
		return dec, err
	}
	return dec, nil
}

func loadRunResult(path string) (*model.RunResult, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "shadow: read %s", path)
	}
	var r model.RunResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, eris.Wrapf(err, "shadow: parse %s", path)
	}
	return &r, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "shadow: encode output")
}

func printReport(cycleID, sigLegacy, sigCandidate string, diffs []parity.DiffEntry, rep *shadow.Report, dec gating.Decision) {
	p := message.NewPrinter(language.English)

	p.Printf("cycle %s\n", cycleID)
	p.Printf("legacy signature     %s\n", sigLegacy)
	p.Printf("candidate signature  %s\n", sigCandidate)
	if sigLegacy == sigCandidate {
		p.Printf("parity               MATCH\n")
	} else {
		p.Printf("parity               %d diff entries\n", len(diffs))
		for _, d := range diffs {
			p.Printf("  [%s] %s a=%v b=%v\n", d.Kind, d.Path, d.A, d.B)
		}
	}

	p.Printf("shadow severity      %s (counts=%d alerts=%d coverage=%d partial=%d structural=%d)\n",
		rep.Severity, len(rep.Counts), len(rep.Alerts), len(rep.Coverage),
		len(rep.PartialReasons), len(rep.Structural))

	p.Printf("gating %s/%s        mode=%s promote=%v reason=%s ok_ratio=%.3f ok_streak=%d window=%d\n",
		dec.Index, dec.Rule, dec.Mode, dec.Promote, dec.Reason, dec.OkRatio, dec.OkStreak, dec.WindowSize)
	if dec.ProtectedDiff {
		p.Printf("PROTECTED FIELD DIVERGED: promotion vetoed\n")
	}
}

func init() {
	shadowCompareCmd.Flags().BoolVar(&shadowJSON, "json", false, "emit machine-readable JSON")
	shadowCompareCmd.Flags().BoolVar(&shadowRecord, "record", false, "record the decision in the gating store")
	shadowCompareCmd.Flags().StringVar(&shadowCycleID, "cycle-id", "", "cycle identifier (defaults to the legacy dump's, else a fresh uuid)")
	shadowCompareCmd.Flags().StringVar(&shadowIndex, "index", "ALL", "index symbol for the gating key")
	shadowCompareCmd.Flags().StringVar(&shadowRule, "rule", "all", "expiry rule for the gating key")

	shadowCmd.AddCommand(shadowCompareCmd)
	rootCmd.AddCommand(shadowCmd)
}
