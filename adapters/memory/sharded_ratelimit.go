// Package memory provides in-memory implementations of the store ports:
// the sharded rate-meter bucket map and its background reaper.
package memory

import (
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/artpar/geoproxy/domain/ratelimit"
	"github.com/artpar/geoproxy/ports"
)

type bucketEntry struct {
	bucket   ratelimit.Bucket
	capacity float64
	ruleURL  string
}

type rateMeterShard struct {
	mu      sync.Mutex
	entries map[string]bucketEntry
}

// ShardedRateMeterStore is the Rate Meter's bucket map: sharded for
// concurrency, reaped for memory, safe for concurrent Admit calls
// against different keys while serializing same-key calls through a
// per-shard mutex.
type ShardedRateMeterStore struct {
	shards    []*rateMeterShard
	numShards int

	reapInterval time.Duration
	reapIdle     time.Duration
	ticker       *time.Ticker
	done         chan struct{}
	closeOnce    sync.Once
}

// ShardedRateMeterConfig configures the store.
type ShardedRateMeterConfig struct {
	NumShards    int           // default 32
	ReapInterval time.Duration // default 60s, per §4.3's default reaper period
	ReapIdle     time.Duration // default 60s; buckets idle this long are reaped
}

// NewShardedRateMeterStore creates a store and starts its background
// reaper goroutine.
func NewShardedRateMeterStore(cfg ShardedRateMeterConfig) *ShardedRateMeterStore {
	if cfg.NumShards <= 0 {
		cfg.NumShards = 32
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = 60 * time.Second
	}
	if cfg.ReapIdle <= 0 {
		cfg.ReapIdle = 60 * time.Second
	}

	s := &ShardedRateMeterStore{
		shards:       make([]*rateMeterShard, cfg.NumShards),
		numShards:    cfg.NumShards,
		reapInterval: cfg.ReapInterval,
		reapIdle:     cfg.ReapIdle,
		done:         make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &rateMeterShard{entries: make(map[string]bucketEntry)}
	}

	s.ticker = time.NewTicker(s.reapInterval)
	go s.reapLoop()

	return s
}

func shardKey(k ports.BucketKey) string {
	return k.Referrer + "|" + strconv.Itoa(k.RuleIndex)
}

func (s *ShardedRateMeterStore) getShard(key string) *rateMeterShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(s.numShards)]
}

// Admit implements ports.RateMeterStore: lazily creates the bucket for
// key at capacity-minus-one on first use, otherwise accrues and
// deducts per domain/ratelimit.Check, and reports admission.
func (s *ShardedRateMeterStore) Admit(key ports.BucketKey, cfg ratelimit.Config, now time.Time) bool {
	sk := shardKey(key)
	shard := s.getShard(sk)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry, exists := shard.entries[sk]
	if !exists {
		shard.entries[sk] = bucketEntry{
			bucket:   ratelimit.NewBucket(cfg, now),
			capacity: cfg.Capacity,
		}
		return true
	}

	admitted, next := ratelimit.Check(entry.bucket, cfg, now)
	entry.bucket = next
	entry.capacity = cfg.Capacity
	shard.entries[sk] = entry
	return admitted
}

// SetRuleURL records the rule URL a bucket belongs to, for /status
// reporting. Called by app.DispatchService.Handle right after Admit so a
// snapshot can show which upstream a bucket throttles.
func (s *ShardedRateMeterStore) SetRuleURL(key ports.BucketKey, url string) {
	sk := shardKey(key)
	shard := s.getShard(sk)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if entry, ok := shard.entries[sk]; ok {
		entry.ruleURL = url
		shard.entries[sk] = entry
	}
}

// Tokens reports a bucket's current token level, for the
// rate_limit_tokens gauge. The second return value is false if the
// bucket does not exist yet.
func (s *ShardedRateMeterStore) Tokens(key ports.BucketKey) (float64, bool) {
	sk := shardKey(key)
	shard := s.getShard(sk)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	entry, ok := shard.entries[sk]
	if !ok {
		return 0, false
	}
	return entry.bucket.Tokens, true
}

// Dump returns a snapshot of every live bucket, for /status.
func (s *ShardedRateMeterStore) Dump() []ratelimit.Snapshot {
	var out []ratelimit.Snapshot
	for _, shard := range s.shards {
		shard.mu.Lock()
		for sk, e := range shard.entries {
			referrer := sk
			if idx := lastPipe(sk); idx >= 0 {
				referrer = sk[:idx]
			}
			out = append(out, ratelimit.Snapshot{
				Referrer: referrer,
				RuleURL:  e.ruleURL,
				Tokens:   e.bucket.Tokens,
				Capacity: e.capacity,
				LastUsed: e.bucket.LastReplenish,
			})
		}
		shard.mu.Unlock()
	}
	return out
}

func lastPipe(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '|' {
			return i
		}
	}
	return -1
}

// Reap removes buckets untouched for at least maxIdle, and reports how
// many were removed.
func (s *ShardedRateMeterStore) Reap(now time.Time, maxIdle time.Duration) int {
	removed := 0
	cutoff := now.Add(-maxIdle)
	for _, shard := range s.shards {
		shard.mu.Lock()
		for sk, e := range shard.entries {
			if !e.bucket.LastReplenish.After(cutoff) {
				delete(shard.entries, sk)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

func (s *ShardedRateMeterStore) reapLoop() {
	for {
		select {
		case <-s.ticker.C:
			s.Reap(time.Now(), s.reapIdle)
		case <-s.done:
			return
		}
	}
}

// Close stops the reaper goroutine.
func (s *ShardedRateMeterStore) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.ticker.Stop()
	})
}

// Len returns the total number of live buckets (for testing).
func (s *ShardedRateMeterStore) Len() int {
	total := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		total += len(shard.entries)
		shard.mu.Unlock()
	}
	return total
}

var _ ports.RateMeterStore = (*ShardedRateMeterStore)(nil)
