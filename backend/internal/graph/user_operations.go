package graph

import (
	"context"
	"time"

	"go.uber.org/zap"
	"matchmaker/backend/internal/domain"
)

// ============================================================================
// User Operations
// ============================================================================

// UpsertNode creates or refreshes the user's node with the current persona.
// Cached compatibility edges are dropped because they were scored against the
// previous persona. Safe to repeat with the same payload.
func (r *Repository) UpsertNode(ctx context.Context, persona domain.Persona) error {
	names, values := traitLists(persona.Traits)
	insights := persona.Insights
	if insights == nil {
		insights = []string{}
	}

	query := `
		MERGE (u:User {id: $userID})
		ON CREATE SET u.first_seen = datetime()
		SET u.trait_names = $traitNames,
		    u.trait_values = $traitValues,
		    u.insights = $insights,
		    u.persona_updated_at = datetime($updatedAt)
		WITH u
		OPTIONAL MATCH (u)-[c:COMPATIBLE_WITH]-()
		DELETE c
		RETURN u.id as id
	`

	_, err := r.write(ctx, "upsert_node", query, map[string]interface{}{
		"userID":      persona.UserID,
		"traitNames":  names,
		"traitValues": values,
		"insights":    insights,
		"updatedAt":   persona.LastUpdated.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	r.logger.Debug("User node upserted",
		zap.String("user_id", persona.UserID),
		zap.Int("traits", len(names)),
	)
	return nil
}
