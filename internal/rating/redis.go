package rating

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// RedisStore keeps ratings in a sorted set so the leaderboard is a single
// ZREVRANGE; per-player counters live in a hash next to it.
//
//	<prefix>:ratings        ZSET member=name score=rating
//	<prefix>:player:<name>  HASH games, wins, losses
type RedisStore struct {
	client   redis.UniversalClient
	prefix   string
	defaultR int
}

// NewRedisStore wraps an existing client. prefix defaults to "pong".
func NewRedisStore(client redis.UniversalClient, prefix string, defaultRating int) *RedisStore {
	if prefix == "" {
		prefix = "pong"
	}
	if defaultRating <= 0 {
		defaultRating = DefaultRating
	}
	return &RedisStore{client: client, prefix: prefix, defaultR: defaultRating}
}

// Compile-time check that RedisStore implements Store.
var _ Store = (*RedisStore)(nil)

func (r *RedisStore) ratingsKey() string {
	return r.prefix + ":ratings"
}

func (r *RedisStore) playerKey(name string) string {
	return r.prefix + ":player:" + name
}

// GetRating implements Store. The default record is created atomically with
// the read (ZADD NX + ZSCORE in one transaction).
func (r *RedisStore) GetRating(ctx context.Context, name string) (int, error) {
	if name == "" {
		return 0, ErrInvalidName
	}

	var score *redis.FloatCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAddNX(ctx, r.ratingsKey(), redis.Z{Score: float64(r.defaultR), Member: name})
		score = pipe.ZScore(ctx, r.ratingsKey(), name)
		return nil
	})
	if err != nil {
		return 0, eris.Wrapf(ErrUnavailable, "get rating for %q: %v", name, err)
	}
	return int(score.Val()), nil
}

// SetRating implements Store.
func (r *RedisStore) SetRating(ctx context.Context, name string, rating int, outcome Outcome) error {
	if name == "" {
		return ErrInvalidName
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, r.ratingsKey(), redis.Z{Score: float64(rating), Member: name})
		switch outcome {
		case Win:
			pipe.HIncrBy(ctx, r.playerKey(name), "games", 1)
			pipe.HIncrBy(ctx, r.playerKey(name), "wins", 1)
		case Loss:
			pipe.HIncrBy(ctx, r.playerKey(name), "games", 1)
			pipe.HIncrBy(ctx, r.playerKey(name), "losses", 1)
		}
		return nil
	})
	if err != nil {
		return eris.Wrapf(ErrUnavailable, "set rating for %q: %v", name, err)
	}
	return nil
}

// Top implements Store.
func (r *RedisStore) Top(ctx context.Context, limit int) ([]Entry, error) {
	limit = normalizeLimit(limit)

	zs, err := r.client.ZRevRangeWithScores(ctx, r.ratingsKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, eris.Wrapf(ErrUnavailable, "read leaderboard: %v", err)
	}

	entries := make([]Entry, 0, len(zs))
	for _, z := range zs {
		name, ok := z.Member.(string)
		if !ok {
			continue
		}
		entries = append(entries, Entry{Name: name, Rating: int(z.Score)})
	}
	return entries, nil
}

// Record returns the full record for name without creating it.
func (r *RedisStore) Record(ctx context.Context, name string) (Record, error) {
	score, err := r.client.ZScore(ctx, r.ratingsKey(), name).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, eris.Wrapf(ErrUnavailable, "read record for %q: %v", name, err)
	}

	stats, err := r.client.HGetAll(ctx, r.playerKey(name)).Result()
	if err != nil {
		return Record{}, eris.Wrapf(ErrUnavailable, "read stats for %q: %v", name, err)
	}
	return Record{
		Name:        name,
		Rating:      int(score),
		GamesPlayed: atoi(stats["games"]),
		Wins:        atoi(stats["wins"]),
		Losses:      atoi(stats["losses"]),
	}, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
