package graph

import (
	"sort"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"matchmaker/backend/internal/domain"
)

// ============================================================================
// Helper Functions
// ============================================================================

func getStringFromRecord(record *neo4j.Record, key string) string {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return ""
}

func getInt64FromRecord(record *neo4j.Record, key string) int64 {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return 0
	}
	if i, ok := val.(int64); ok {
		return i
	}
	if i, ok := val.(int); ok {
		return int64(i)
	}
	return 0
}

func getFloat64FromRecord(record *neo4j.Record, key string) float64 {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return 0.0
	}
	if f, ok := val.(float64); ok {
		return f
	}
	if i, ok := val.(int64); ok {
		return float64(i)
	}
	return 0.0
}

// traitLists flattens a trait map into parallel name/value lists sorted by name.
// Neo4j properties cannot hold maps.
func traitLists(traits map[string]float64) ([]string, []float64) {
	names := make([]string, 0, len(traits))
	for name := range traits {
		names = append(names, name)
	}
	sort.Strings(names)

	values := make([]float64, len(names))
	for i, name := range names {
		values[i] = traits[name]
	}
	return names, values
}

// statusRank orders statuses so mirror writes never move an edge backwards
func statusRank(status domain.MatchStatus) int64 {
	switch status {
	case domain.MatchStatusPending:
		return 1
	case domain.MatchStatusActive:
		return 2
	case domain.MatchStatusEnded:
		return 3
	}
	return 0
}
