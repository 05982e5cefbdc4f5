package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "drivethru-orchestrator/internal/common/errors"
	apphttp "drivethru-orchestrator/internal/common/http"
)

var ErrSimilarityAPITimeout = errors.New("SIMILARITY_API_TIMEOUT")

type RemoteConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// RemoteScorer delegates scoring to the embedding similarity service.
type RemoteScorer struct {
	config RemoteConfig
	client *apphttp.Client
}

func NewRemoteScorer(config RemoteConfig) *RemoteScorer {
	if config.Timeout <= 0 {
		config.Timeout = 1500 * time.Millisecond
	}
	return &RemoteScorer{
		config: config,
		client: apphttp.NewClient(config.Timeout).WithAPIKey(config.APIKey),
	}
}

type similarityRequest struct {
	Phrase     string   `json:"phrase"`
	Candidates []string `json:"candidates"`
}

type similarityResponse struct {
	Scores []Score `json:"scores"`
}

func (s *RemoteScorer) Score(ctx context.Context, phrase string, candidates []string) ([]Score, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	var resp similarityResponse
	url := strings.TrimRight(s.config.BaseURL, "/") + "/v1/similarity"
	err := s.client.PostJSON(ctx, url, similarityRequest{Phrase: phrase, Candidates: candidates}, &resp)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, apperrors.NewSimilarityAPITimeoutError(fmt.Errorf("%w: %v", ErrSimilarityAPITimeout, err))
		}
		return nil, apperrors.NewCollaboratorUnavailableError("similarity", err)
	}
	return resp.Scores, nil
}
