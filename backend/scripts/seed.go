package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	"matchmaker/backend/internal/backend"
	"matchmaker/backend/internal/domain"
	"matchmaker/backend/internal/matching"
	"matchmaker/backend/internal/oracle"
	"matchmaker/backend/internal/persona"
	"matchmaker/backend/pkg/config"
	"matchmaker/backend/pkg/logger"
)

type demoUser struct {
	id        string
	responses []domain.ResponseRecord
}

var demoUsers = []demoUser{
	{id: "ava", responses: []domain.ResponseRecord{
		{Prompt: "What does a perfect weekend look like?", Content: "A spontaneous trip somewhere new, hiking in the morning and exploring the town at night."},
		{Prompt: "What are you learning right now?", Content: "I'm reading about astronomy and I love asking why things work the way they do."},
	}},
	{id: "ben", responses: []domain.ResponseRecord{
		{Prompt: "What does a perfect weekend look like?", Content: "Travel with friends, climb something tall, maybe camp outdoors."},
		{Prompt: "What are you learning right now?", Content: "Learning to explore new science podcasts while I hike."},
	}},
	{id: "cleo", responses: []domain.ResponseRecord{
		{Prompt: "How do your friends describe you?", Content: "Kind and patient. I listen, I care about how others feel, and I try to help."},
		{Prompt: "What matters most in a relationship?", Content: "Trust, support and understanding each other's feelings."},
	}},
	{id: "dev", responses: []domain.ResponseRecord{
		{Prompt: "How do your friends describe you?", Content: "Caring and gentle, a good listener with a lot of compassion."},
		{Prompt: "What matters most in a relationship?", Content: "Being kind, sharing, and being there to support each other."},
	}},
	{id: "eli", responses: []domain.ResponseRecord{
		{Prompt: "What drives you?", Content: "My career. I want to build something, lead a team and achieve real success."},
		{Prompt: "How do you plan your week?", Content: "Organized schedule, clear goals, a careful routine I finish every day."},
	}},
	{id: "fay", responses: []domain.ResponseRecord{
		{Prompt: "What makes you laugh?", Content: "Silly jokes, comedy nights, anything witty. Fun is the point."},
		{Prompt: "What does a perfect weekend look like?", Content: "A party with friends, meeting new people and laughing all night."},
	}},
}

func main() {
	generate := flag.Bool("generate", true, "Generate matches for every seeded user")
	limit := flag.Int("limit", 5, "Match limit per user")
	flag.Parse()

	// Initialize logger
	if err := logger.Init("development", os.Getenv("LOG_LEVEL")); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting demo seeding...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx := context.Background()
	stores, err := backend.Open(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to open backend", zap.Error(err))
	}
	defer stores.Close(ctx)

	personas := persona.NewManager(persona.Config{
		Personas:  stores.Personas,
		Responses: stores.Responses,
		Oracle:    oracle.New(nil),
		Staleness: cfg.PersonaStaleness,
	})

	// Responses and personas
	for _, u := range demoUsers {
		for _, r := range u.responses {
			r.UserID = u.id
			if _, err := stores.Responses.AddResponse(ctx, r); err != nil {
				log.Fatal("Failed to add response", zap.String("user_id", u.id), zap.Error(err))
			}
		}

		p, err := personas.UpdatePersona(ctx, u.id)
		if err != nil {
			log.Fatal("Failed to derive persona", zap.String("user_id", u.id), zap.Error(err))
		}
		if err := stores.Graph.UpsertNode(ctx, *p); err != nil {
			log.Warn("Failed to upsert graph node", zap.String("user_id", u.id), zap.Error(err))
		}
		log.Info("Seeded user",
			zap.String("user_id", u.id),
			zap.Int("responses", len(u.responses)),
			zap.Strings("insights", p.Insights),
		)
	}

	if !*generate {
		log.Info("Seeding complete")
		return
	}

	engine := matching.NewEngine(matching.Config{
		Personas:         personas,
		Ledger:           stores.Ledger,
		Graph:            stores.Graph,
		MinCompatibility: &cfg.MinCompatibility,
		Workers:          cfg.MatchWorkers,
	})
	for _, u := range demoUsers {
		result, err := engine.GenerateMatches(ctx, u.id, *limit)
		if err != nil {
			log.Error("Failed to generate matches", zap.String("user_id", u.id), zap.Error(err))
			continue
		}
		for _, m := range result.Matches {
			log.Info("Match created",
				zap.String("user_id", u.id),
				zap.String("partner_id", m.Partner(u.id)),
				zap.Float64("compatibility", m.Compatibility),
			)
		}
	}

	log.Info("Seeding complete")
}
