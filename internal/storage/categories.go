package storage

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/newsagent/orchestrator/internal/types"
)

func (s *Store) categories() *mongo.Collection { return s.db.Collection("categories") }

// LoadCategoryMapping reads the full category taxonomy into a name->
// external_id map. The worker calls it once at startup, not once per
// pipeline run; the categorize_article stage consults the result to resolve
// the LLM's predicted names.
func (s *Store) LoadCategoryMapping(ctx context.Context) (map[string]string, error) {
	cur, err := s.categories().Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}
	defer cur.Close(ctx)

	var categories []types.Category
	if err := cur.All(ctx, &categories); err != nil {
		return nil, fmt.Errorf("decode categories: %w", err)
	}

	out := make(map[string]string, len(categories))
	for _, c := range categories {
		out[c.Name] = c.ExternalID
	}
	return out, nil
}
