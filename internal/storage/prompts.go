package storage

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/newsagent/orchestrator/internal/types"
)

// LoadPrompts reads every prompt document into a name->template map.
func (s *Store) LoadPrompts(ctx context.Context) (map[string]string, error) {
	cur, err := s.prompts().Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	defer cur.Close(ctx)

	var prompts []types.Prompt
	if err := cur.All(ctx, &prompts); err != nil {
		return nil, fmt.Errorf("decode prompts: %w", err)
	}

	out := make(map[string]string, len(prompts))
	for _, p := range prompts {
		out[p.Name] = p.Template
	}
	return out, nil
}

// ValidateRequiredPrompts checks that every name in types.RequiredPromptNames
// maps to a non-empty template. This is the C3 fatal-at-startup check: a
// deploy missing any prompt never begins accepting jobs.
func ValidateRequiredPrompts(prompts map[string]string) error {
	var missing []string
	for _, name := range types.RequiredPromptNames {
		if template, ok := prompts[name]; !ok || template == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &types.ConfigurationError{
			Component: "prompt_store",
			Reason:    fmt.Sprintf("missing required prompts: %v", missing),
		}
	}
	return nil
}
