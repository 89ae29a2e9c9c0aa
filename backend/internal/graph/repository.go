package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
	apperrors "matchmaker/backend/pkg/errors"
	"matchmaker/backend/pkg/logger"
)

// Repository is the Neo4j-backed graph index. It holds one User node per
// persona, cached COMPATIBLE_WITH edges and MATCHED_WITH mirror edges.
type Repository struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *zap.Logger
}

// NewRepository creates a new graph repository
func NewRepository(driver neo4j.DriverWithContext, database string) *Repository {
	return &Repository{
		driver:   driver,
		database: database,
		logger:   logger.Component("graph"),
	}
}

// Connect opens a driver and verifies connectivity
func Connect(ctx context.Context, uri, user, password string) (neo4j.DriverWithContext, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""), func(cfg *neo4j.Config) {
		cfg.SocketConnectTimeout = 10 * time.Second
	})
	if err != nil {
		return nil, apperrors.NewGraphConnectionFailed(uri, err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, apperrors.NewGraphConnectionFailed(uri, err)
	}
	return driver, nil
}

// Close closes the Neo4j driver connection
func (r *Repository) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

func (r *Repository) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return r.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: r.database,
	})
}

// EnsureConstraints creates the constraints and indexes the index relies on.
// Statements are idempotent.
func (r *Repository) EnsureConstraints(ctx context.Context) error {
	session := r.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	statements := []string{
		"CREATE CONSTRAINT user_id_unique IF NOT EXISTS FOR (u:User) REQUIRE u.id IS UNIQUE",
		"CREATE INDEX matched_with_match_id IF NOT EXISTS FOR ()-[r:MATCHED_WITH]-() ON (r.match_id)",
	}
	for _, stmt := range statements {
		result, err := session.Run(ctx, stmt, nil)
		if err != nil {
			return apperrors.NewGraphQueryFailed(stmt, err)
		}
		if _, err := result.Consume(ctx); err != nil {
			return apperrors.NewGraphQueryFailed(stmt, err)
		}
	}

	r.logger.Info("Graph constraints ensured", zap.Int("statements", len(statements)))
	return nil
}

// write executes a query in a managed transaction and returns all records
func (r *Repository) write(ctx context.Context, name, query string, params map[string]interface{}) ([]*neo4j.Record, error) {
	session := r.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	})
	if err != nil {
		return nil, apperrors.NewGraphQueryFailed(name, fmt.Errorf("failed to execute query: %w", err))
	}
	records, _ := out.([]*neo4j.Record)
	return records, nil
}
