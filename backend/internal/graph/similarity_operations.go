package graph

import (
	"context"

	"go.uber.org/zap"
	"matchmaker/backend/internal/domain"
)

// ============================================================================
// Similarity Operations
// ============================================================================

// candidateQuery scores every other persona-bearing user against $userID with
// the cosine similarity of their trait vectors (missing traits count as 0),
// keeps the top $limit and caches the scores as COMPATIBLE_WITH edges.
const candidateQuery = `
	MATCH (u:User {id: $userID})
	WHERE size(coalesce(u.trait_names, [])) > 0
	MATCH (o:User)
	WHERE o.id <> u.id AND size(coalesce(o.trait_names, [])) > 0

	WITH u, o,
	     reduce(dot = 0.0, i IN range(0, size(u.trait_names) - 1) |
	        dot + u.trait_values[i] * coalesce(
	            head([j IN range(0, size(o.trait_names) - 1) WHERE o.trait_names[j] = u.trait_names[i] | o.trait_values[j]]),
	            0.0)) as dot,
	     sqrt(reduce(s = 0.0, v IN u.trait_values | s + v * v)) as norm_u,
	     sqrt(reduce(s = 0.0, v IN o.trait_values | s + v * v)) as norm_o

	WITH u, o, CASE WHEN norm_u = 0 OR norm_o = 0 THEN 0.0 ELSE dot / (norm_u * norm_o) END as raw
	WITH u, o, CASE WHEN raw > 1.0 THEN 1.0 WHEN raw < 0.0 THEN 0.0 ELSE raw END as score
	ORDER BY score DESC, o.id ASC
	LIMIT $limit

	MERGE (u)-[c:COMPATIBLE_WITH]-(o)
	SET c.score = score, c.computed_at = datetime()
	RETURN o.id as user_id, score
`

// QueryCandidates returns up to count users ranked by compatibility with userID,
// descending, ties broken by ascending user id
func (r *Repository) QueryCandidates(ctx context.Context, userID string, count int) ([]domain.Candidate, error) {
	if count < 1 {
		return []domain.Candidate{}, nil
	}

	records, err := r.write(ctx, "query_candidates", candidateQuery, map[string]interface{}{
		"userID": userID,
		"limit":  count,
	})
	if err != nil {
		return nil, err
	}

	candidates := make([]domain.Candidate, 0, len(records))
	for _, record := range records {
		candidates = append(candidates, domain.Candidate{
			UserID:        getStringFromRecord(record, "user_id"),
			Compatibility: getFloat64FromRecord(record, "score"),
		})
	}
	// Row order is not guaranteed to survive the MERGE
	domain.SortCandidates(candidates)

	r.logger.Debug("Candidates queried",
		zap.String("user_id", userID),
		zap.Int("requested", count),
		zap.Int("returned", len(candidates)),
	)
	return candidates, nil
}
