package syncer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const metricsKey = "copytrade:metrics"

// FeedMetrics tracks fill ingestion health.
type FeedMetrics struct {
	FollowedTraders int       `json:"followed_traders"`
	FillsIngested   int64     `json:"fills_ingested"`
	PollFailures    int64     `json:"poll_failures"`
	LastFillAt      time.Time `json:"last_fill_at"`
}

// ReplicationMetrics tracks copy-trade execution health.
type ReplicationMetrics struct {
	OrdersExecuted   int64 `json:"orders_executed"`
	OrdersFailed     int64 `json:"orders_failed"`
	OrdersSuppressed int64 `json:"orders_suppressed"`
	AutoPauses       int64 `json:"auto_pauses"`
}

// SystemMetrics represents combined system metrics
type SystemMetrics struct {
	Feed        FeedMetrics        `json:"feed"`
	Replication ReplicationMetrics `json:"replication"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// MetricsStore handles storing and retrieving metrics
type MetricsStore struct {
	redis *redis.Client
}

// NewMetricsStore creates a new metrics store
func NewMetricsStore(redisClient *redis.Client) *MetricsStore {
	return &MetricsStore{redis: redisClient}
}

// SaveFeedMetrics saves feed metrics to Redis
func (m *MetricsStore) SaveFeedMetrics(ctx context.Context, metrics FeedMetrics) error {
	system, _ := m.GetMetrics(ctx)
	if system == nil {
		system = &SystemMetrics{}
	}
	system.Feed = metrics
	system.UpdatedAt = time.Now()
	return m.save(ctx, system)
}

// SaveReplicationMetrics saves replication metrics to Redis
func (m *MetricsStore) SaveReplicationMetrics(ctx context.Context, metrics ReplicationMetrics) error {
	system, _ := m.GetMetrics(ctx)
	if system == nil {
		system = &SystemMetrics{}
	}
	system.Replication = metrics
	system.UpdatedAt = time.Now()
	return m.save(ctx, system)
}

func (m *MetricsStore) save(ctx context.Context, system *SystemMetrics) error {
	data, err := json.Marshal(system)
	if err != nil {
		return err
	}
	return m.redis.Set(ctx, metricsKey, data, 24*time.Hour).Err()
}

// GetMetrics retrieves all metrics from Redis
func (m *MetricsStore) GetMetrics(ctx context.Context) (*SystemMetrics, error) {
	data, err := m.redis.Get(ctx, metricsKey).Result()
	if err != nil {
		if err == redis.Nil {
			return &SystemMetrics{}, nil
		}
		return nil, err
	}

	var metrics SystemMetrics
	if err := json.Unmarshal([]byte(data), &metrics); err != nil {
		return nil, err
	}

	return &metrics, nil
}
