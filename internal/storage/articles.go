package storage

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/newsagent/orchestrator/internal/types"
)

// ArchiveArticle persists a completed, enriched article.
func (s *Store) ArchiveArticle(ctx context.Context, a *types.Article) error {
	_, err := s.archivedArticles().InsertOne(ctx, a)
	if err != nil {
		return fmt.Errorf("archive article: %w", err)
	}
	return nil
}

// DeleteArticle moves an archived article to the deleted collection rather
// than removing it outright, so the operator-facing delete endpoint is
// reversible.
func (s *Store) DeleteArticle(ctx context.Context, id string) error {
	var doc bson.M
	if err := s.archivedArticles().FindOneAndDelete(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return fmt.Errorf("delete article %s: %w", id, err)
	}
	if _, err := s.deletedArticles().InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("move article %s to deleted: %w", id, err)
	}
	return nil
}

// RecentArticles returns up to limit of the most recently processed
// articles, used by the job API's listing endpoint.
func (s *Store) RecentArticles(ctx context.Context, limit int64) ([]types.Article, error) {
	cur, err := s.archivedArticles().Find(ctx, bson.M{},
		mongoFindOptions(limit))
	if err != nil {
		return nil, fmt.Errorf("list recent articles: %w", err)
	}
	defer cur.Close(ctx)

	var articles []types.Article
	if err := cur.All(ctx, &articles); err != nil {
		return nil, fmt.Errorf("decode articles: %w", err)
	}
	return articles, nil
}
