package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nidhogg/schema-evolver/internal/schema"
)

// SchemaMarkdown documents the exported schema.
func SchemaMarkdown(b *Bundle) string {
	var w strings.Builder
	s := b.Schema
	if s == nil {
		fmt.Fprintf(&w, "# Schema\n\nNo schema was produced by run %s.\n", b.Summary.RunID)
		return w.String()
	}

	fmt.Fprintf(&w, "# Schema %s\n\n", s.Version)
	fmt.Fprintf(&w, "Iteration %d of run %s", s.Iteration, b.Summary.RunID)
	if b.Summary.Domain != "" {
		fmt.Fprintf(&w, " for %s", b.Summary.Domain)
	}
	w.WriteString(".\n")
	if e := b.Evaluation; e != nil {
		fmt.Fprintf(&w, "Overall score %.2f, ready for production: %s.\n", e.OverallScore, yesNo(e.ReadyForProduction))
	}

	fmt.Fprintf(&w, "\n## Nodes (%d)\n", len(s.Nodes))
	for _, n := range s.Nodes {
		fmt.Fprintf(&w, "\n### %s\n\n", n.Label)
		props := n.SortedProperties()
		if len(props) == 0 {
			w.WriteString("No properties.\n")
			continue
		}
		w.WriteString("| Property | Type |\n|---|---|\n")
		for _, p := range props {
			fmt.Fprintf(&w, "| %s | %s |\n", p, n.Properties[p])
		}
	}

	fmt.Fprintf(&w, "\n## Relationships (%d)\n\n", len(s.Relationships))
	if len(s.Relationships) > 0 {
		w.WriteString("| Type | From | To | Properties |\n|---|---|---|---|\n")
		for _, r := range s.Relationships {
			fmt.Fprintf(&w, "| %s | %s | %s | %s |\n", r.Type, r.FromLabel, r.ToLabel, propList(r.Properties))
		}
	}

	fmt.Fprintf(&w, "\n## Indexes (%d)\n\n", len(s.Indexes))
	if len(s.Indexes) > 0 {
		w.WriteString("| Kind | Label | Properties | Options |\n|---|---|---|---|\n")
		for _, idx := range s.Indexes {
			opts := ""
			if idx.Kind == schema.IndexVector {
				opts = fmt.Sprintf("dimension %d, %s", idx.Dimension, idx.Similarity)
			}
			fmt.Fprintf(&w, "| %s | %s | %s | %s |\n", idx.Kind, idx.NodeLabel, strings.Join(idx.Properties, ", "), opts)
		}
	}

	fmt.Fprintf(&w, "\n## Constraints (%d)\n\n", len(s.Constraints))
	if len(s.Constraints) > 0 {
		w.WriteString("| Kind | Label | Property |\n|---|---|---|\n")
		for _, c := range s.Constraints {
			fmt.Fprintf(&w, "| %s | %s | %s |\n", c.Kind, c.NodeLabel, c.Property)
		}
	}

	rc := s.RetrievalConfig
	w.WriteString("\n## Retrieval configuration\n\n")
	fmt.Fprintf(&w, "- Chunk size: %d\n- Chunk overlap: %d\n- Embedding dimension: %d\n",
		rc.ChunkSize, rc.ChunkOverlap, rc.EmbeddingDimension)

	if len(s.Facets) > 0 {
		w.WriteString("\n## Facets\n\n| Brief | Status |\n|---|---|\n")
		for _, brief := range schema.Briefs {
			if st, ok := s.Facets[brief]; ok {
				fmt.Fprintf(&w, "| %s | %s |\n", brief, st)
			}
		}
	}
	return w.String()
}

// EvolutionMarkdown summarises the run round by round.
func EvolutionMarkdown(b *Bundle) string {
	var w strings.Builder
	sum := b.Summary

	fmt.Fprintf(&w, "# Evolution %s\n\n", sum.RunID)
	if sum.Domain != "" {
		fmt.Fprintf(&w, "- Domain: %s\n", sum.Domain)
	}
	fmt.Fprintf(&w, "- Status: %s\n", sum.Status)
	fmt.Fprintf(&w, "- Rounds: %d of %d\n", sum.Iterations, sum.MaxIterations)
	fmt.Fprintf(&w, "- Target score: %.2f, dimension floor: %.2f\n", sum.TargetScore, sum.DimensionFloor)
	if sum.BestVersion != "" {
		fmt.Fprintf(&w, "- Best schema: %s (%.2f)\n", sum.BestVersion, sum.BestScore)
	}
	if sum.AbortReason != "" {
		fmt.Fprintf(&w, "- Abort reason: %s\n", sum.AbortReason)
	}

	w.WriteString("\n## Rounds\n\n")
	if len(b.History) == 0 {
		w.WriteString("No round completed.\n")
	} else {
		w.WriteString("| Iteration | Version | Overall | Ready | Weakest dimension | Duration (s) | Degraded briefs |\n")
		w.WriteString("|---|---|---|---|---|---|---|\n")
		for _, rec := range b.History {
			weakest, overall, ready := "", 0.0, false
			if e := rec.Evaluation; e != nil {
				d, score := e.MinDimension()
				weakest = fmt.Sprintf("%s (%.2f)", d, score)
				overall, ready = e.OverallScore, e.ReadyForProduction
			}
			degraded := "-"
			if rec.Round != nil {
				if briefs := rec.Round.Degraded(); len(briefs) > 0 {
					names := make([]string, len(briefs))
					for i, br := range briefs {
						names[i] = string(br)
					}
					degraded = strings.Join(names, ", ")
				}
			}
			fmt.Fprintf(&w, "| %d | %s | %.2f | %s | %s | %.2f | %s |\n",
				rec.Iteration, rec.SchemaVersion, overall, yesNo(ready), weakest, rec.DurationSeconds, degraded)
		}
	}

	if e := b.Evaluation; e != nil {
		fmt.Fprintf(&w, "\n## Dimension scores of %s\n\n", e.SchemaVersion)
		w.WriteString("| Dimension | Weight | Score |\n|---|---|---|\n")
		for _, d := range e.DimensionOrder {
			ds := e.DimensionScores[d]
			fmt.Fprintf(&w, "| %s | %.2f | %.2f |\n", d, ds.Weight, ds.Score)
		}
	}

	if len(sum.Blockers) > 0 {
		w.WriteString("\n## Remaining blockers\n\n")
		for _, bl := range sum.Blockers {
			fmt.Fprintf(&w, "- %s\n", bl)
		}
	}

	if e := b.Evaluation; e != nil && len(e.Suggestions) > 0 {
		w.WriteString("\n## Suggestions\n\n| Priority | Dimension | Missing |\n|---|---|---|\n")
		for _, mc := range e.Suggestions {
			fmt.Fprintf(&w, "| %s | %s | %s |\n", mc.Priority, mc.Dimension, mc.Description)
		}
	}

	if v := b.Validation; v != nil {
		w.WriteString("\n## Implementation\n\n")
		fmt.Fprintf(&w, "Engine %s, schema %s, valid: %s.\n\n", v.Engine, v.SchemaVersion, yesNo(v.Valid))
		w.WriteString("| Kind | Name | Status | Error |\n|---|---|---|---|\n")
		for _, it := range v.Items {
			fmt.Fprintf(&w, "| %s | %s | %s | %s |\n", it.Kind, it.Name, it.Status, it.Error)
		}
		if len(v.Missing) > 0 {
			fmt.Fprintf(&w, "\nMissing after validation: %s\n", strings.Join(v.Missing, ", "))
		}
	}
	if sum.ImplementError != "" {
		fmt.Fprintf(&w, "\nImplementation failed: %s\n", sum.ImplementError)
	}
	return w.String()
}

func propList(props map[string]string) string {
	if len(props) == 0 {
		return ""
	}
	names := make([]string, 0, len(props))
	for k := range props {
		names = append(names, k)
	}
	sort.Strings(names)
	for i, k := range names {
		names[i] = k + ": " + props[k]
	}
	return strings.Join(names, ", ")
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
