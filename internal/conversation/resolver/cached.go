package resolver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "drivethru:similarity:"

type Logger interface {
	Warn(msg string, fields map[string]interface{})
}

// CachedScorer memoizes another scorer's results in redis. A cache failure never fails
// scoring; the inner scorer is asked instead.
type CachedScorer struct {
	inner  Scorer
	redis  redis.Cmdable
	ttl    time.Duration
	logger Logger
}

func NewCachedScorer(inner Scorer, rdb redis.Cmdable, ttl time.Duration, log Logger) *CachedScorer {
	return &CachedScorer{inner: inner, redis: rdb, ttl: ttl, logger: log}
}

func (s *CachedScorer) Score(ctx context.Context, phrase string, candidates []string) ([]Score, error) {
	key := cacheKey(phrase, candidates)

	cached, err := s.redis.Get(ctx, key).Result()
	switch {
	case err == nil:
		var scores []Score
		if jsonErr := json.Unmarshal([]byte(cached), &scores); jsonErr == nil {
			return scores, nil
		}
		s.logger.Warn("discarding corrupt similarity cache entry", map[string]interface{}{"key": key})
	case errors.Is(err, redis.Nil):
	default:
		s.logger.Warn("similarity cache read failed", map[string]interface{}{"key": key, "error": err.Error()})
	}

	scores, err := s.inner.Score(ctx, phrase, candidates)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(scores)
	if err == nil {
		if setErr := s.redis.Set(ctx, key, data, s.ttl).Err(); setErr != nil {
			s.logger.Warn("similarity cache write failed", map[string]interface{}{"key": key, "error": setErr.Error()})
		}
	}
	return scores, nil
}

func cacheKey(phrase string, candidates []string) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(phrase))))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(candidates, "\x1f")))
	return cacheKeyPrefix + hex.EncodeToString(h.Sum(nil))
}
