// Package service contains the application's business logic layer.
package service

import "aibot-go/internal/model"

// ScoreKnowledgeMatches computes the match verdict for one retrieval round.
// Pure and deterministic; no I/O.
//
// Results at or above minSimilarity count as matches: two or more make a
// good_match, exactly one a partial_match. With no qualifying result, a
// positive best similarity below the threshold is a poor_match; otherwise the
// verdict is no_knowledge. The tiering keeps the escalation policy decision
// out of the scorer — the coordinator applies its trigger rule to the status
// alone.
func ScoreKnowledgeMatches(results []model.KnowledgeSearchResult, minSimilarity float64) model.MatchVerdict {
	var unfilteredBest float64
	var matched []model.KnowledgeSearchResult

	for _, r := range results {
		if r.Similarity > unfilteredBest {
			unfilteredBest = r.Similarity
		}
		if r.Similarity >= minSimilarity {
			matched = append(matched, r)
		}
	}

	if len(matched) == 0 {
		status := model.MatchNoKnowledge
		if unfilteredBest > 0 {
			status = model.MatchPoor
		}
		return model.MatchVerdict{
			HasKnowledge:   false,
			BestSimilarity: unfilteredBest,
			Status:         status,
		}
	}

	var best, sum float64
	for _, r := range matched {
		if r.Similarity > best {
			best = r.Similarity
		}
		sum += r.Similarity
	}

	status := model.MatchPartial
	if len(matched) >= 2 {
		status = model.MatchGood
	}

	return model.MatchVerdict{
		HasKnowledge:      true,
		MatchCount:        len(matched),
		BestSimilarity:    best,
		AverageSimilarity: sum / float64(len(matched)),
		Status:            status,
	}
}
