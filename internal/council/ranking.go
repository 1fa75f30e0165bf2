package council

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/redwing-381/mirmer.ai/internal/completion"
)

// LabelFor returns the label of the i-th (0-indexed) response.
func LabelFor(i int) Label {
	return Label(fmt.Sprintf("Response %c", 'A'+rune(i)))
}

// Anonymize renders stage-1 answers under sequential labels in input order
// and returns the rendering with the label→model mapping. Callers must
// pass at most MaxModels results.
func Anonymize(results []Stage1Result) (string, map[Label]completion.ModelID) {
	labelToModel := make(map[Label]completion.ModelID, len(results))
	parts := make([]string, 0, len(results))
	for i, r := range results {
		label := LabelFor(i)
		labelToModel[label] = r.Model
		parts = append(parts, fmt.Sprintf("%s:\n%s\n", label, r.Response))
	}
	return strings.Join(parts, "\n"), labelToModel
}

var (
	finalRankingRe = regexp.MustCompile(`(?im)FINAL RANKING:\s*\n((?:\d+\.\s*Response\s+[A-Z]\s*\n?)+)`)
	responseRe     = regexp.MustCompile(`(?i)Response\s+([A-Z])`)
)

// ParseRanking extracts the ordered labels from a reviewer's ranking text.
// It prefers the numbered list under a "FINAL RANKING:" heading and falls
// back to every "Response X" mention in order of first appearance. Text that
// names no response yields an empty, non-nil slice.
func ParseRanking(text string) []Label {
	if m := finalRankingRe.FindStringSubmatch(text); m != nil {
		if labels := collectLabels(m[1], false); len(labels) > 0 {
			return labels
		}
	}
	return collectLabels(text, true)
}

func collectLabels(text string, dedupe bool) []Label {
	matches := responseRe.FindAllStringSubmatch(text, -1)
	labels := make([]Label, 0, len(matches))
	seen := make(map[Label]bool, len(matches))
	for _, m := range matches {
		label := Label("Response " + strings.ToUpper(m[1]))
		if dedupe {
			if seen[label] {
				continue
			}
			seen[label] = true
		}
		labels = append(labels, label)
	}
	return labels
}

// Aggregate ranks models by their mean 1-indexed position across reviewers,
// best first. A model no reviewer placed has AverageRank +Inf and sorts
// after every ranked model. Equal averages keep label order.
func Aggregate(rankings []Stage2Result, labelToModel map[Label]completion.ModelID) []AggregateRanking {
	positions := make(map[Label][]int, len(labelToModel))
	for _, r := range rankings {
		for i, label := range r.ParsedRanking {
			if _, ok := labelToModel[label]; ok {
				positions[label] = append(positions[label], i+1)
			}
		}
	}

	labels := make([]Label, 0, len(labelToModel))
	for label := range labelToModel {
		labels = append(labels, label)
	}
	sortLabels(labels)

	out := make([]AggregateRanking, 0, len(labels))
	for _, label := range labels {
		ps := positions[label]
		agg := AggregateRanking{
			Model:         labelToModel[label],
			AverageRank:   math.Inf(1),
			RankingsCount: len(ps),
		}
		if len(ps) > 0 {
			sum := 0
			for _, p := range ps {
				sum += p
			}
			agg.AverageRank = float64(sum) / float64(len(ps))
		}
		out = append(out, agg)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AverageRank < out[j].AverageRank
	})
	return out
}

// sortLabels orders labels by assignment order: shorter first, then lexical.
func sortLabels(labels []Label) {
	sort.Slice(labels, func(i, j int) bool {
		if len(labels[i]) != len(labels[j]) {
			return len(labels[i]) < len(labels[j])
		}
		return labels[i] < labels[j]
	})
}
