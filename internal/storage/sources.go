package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/newsagent/orchestrator/internal/types"
)

// ListEnabledSources returns every source the discovery scheduler should
// poll, in no particular order.
func (s *Store) ListEnabledSources(ctx context.Context) ([]types.Source, error) {
	cur, err := s.sources().Find(ctx, bson.M{"enabled": true})
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer cur.Close(ctx)

	var sources []types.Source
	if err := cur.All(ctx, &sources); err != nil {
		return nil, fmt.Errorf("decode sources: %w", err)
	}
	return sources, nil
}

// MarkCrawled records the time a source's listing page was last polled.
func (s *Store) MarkCrawled(ctx context.Context, sourceID string) error {
	_, err := s.sources().UpdateOne(ctx,
		bson.M{"_id": sourceID},
		bson.M{"$set": bson.M{"last_crawled_at": time.Now()}},
	)
	return err
}

// DelaySecondsForDomain implements governance.DelaySource by matching domain
// against each source's listing_url, mirroring the regex-on-listing_url
// lookup the rate limiter's dynamic delay config used. A matching source
// without a positive delay_seconds reports no override.
func (s *Store) DelaySecondsForDomain(ctx context.Context, domain string) (int, bool, error) {
	var doc struct {
		DelaySeconds int `bson:"delay_seconds"`
	}
	err := s.sources().FindOne(ctx, bson.M{
		"listing_url": bson.M{"$regex": strings.ReplaceAll(domain, ".", `\.`)},
	}, options.FindOne().SetProjection(bson.M{"delay_seconds": 1})).Decode(&doc)

	if err == mongo.ErrNoDocuments {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("delay lookup for %s: %w", domain, err)
	}
	if doc.DelaySeconds <= 0 {
		return 0, false, nil
	}
	return doc.DelaySeconds, true, nil
}

// IsKnownURL reports whether url has already been discovered for sourceID,
// the dedup check the scheduler runs before enqueuing a candidate link.
func (s *Store) IsKnownURL(ctx context.Context, sourceID, url string) (bool, error) {
	count, err := s.discoveredArticles().CountDocuments(ctx, bson.M{
		"source_id": sourceID,
		"url":       url,
	})
	if err != nil {
		return false, fmt.Errorf("check known url: %w", err)
	}
	return count > 0, nil
}

// RecordDiscovered persists a newly found candidate link so future polls of
// the same source can dedup against it.
func (s *Store) RecordDiscovered(ctx context.Context, a *types.DiscoveredArticle) error {
	a.DiscoveredAt = time.Now()
	_, err := s.discoveredArticles().InsertOne(ctx, a)
	if err != nil {
		return fmt.Errorf("record discovered article: %w", err)
	}
	return nil
}

// MarkEnqueued flags a discovered article as having been placed on the work
// queue, so a scheduler restart doesn't re-enqueue it.
func (s *Store) MarkEnqueued(ctx context.Context, sourceID, url string) error {
	_, err := s.discoveredArticles().UpdateOne(ctx,
		bson.M{"source_id": sourceID, "url": url},
		bson.M{"$set": bson.M{"enqueued": true}},
	)
	return err
}

// MarkSubmissionFailed flags a discovered article whose submit-job call
// failed, so an operator can find and retry it without the scheduler
// silently re-attempting it every tick.
func (s *Store) MarkSubmissionFailed(ctx context.Context, sourceID, url string) error {
	_, err := s.discoveredArticles().UpdateOne(ctx,
		bson.M{"source_id": sourceID, "url": url},
		bson.M{"$set": bson.M{"submission_failed": true}},
	)
	return err
}
