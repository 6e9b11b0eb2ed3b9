// Package cache provides a read-through Redis cache for room documents.
// Every lookup that misses falls through to the document store; every
// authoritative write invalidates. The cache is strictly optional: a nil
// *Service degrades to store-only operation, as does an open breaker.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/metrics"
	"github.com/nuclearsheep540/rollplay-sub000/internal/v1/types"
)

// roomDocTTL bounds staleness if an invalidation is ever lost.
const roomDocTTL = 60 * time.Second

// Service handles all interaction with Redis.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// Client returns the underlying Redis client, shared with the rate limiter.
func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// NewService creates a Redis connection and verifies it with a ping.
func NewService(addr, password string) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0, // Default DB
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Ping to verify connection immediately
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateHalfOpen:
				stateVal = 1
			case gobreaker.StateOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}

	slog.Info("Connected to Redis cache", "addr", addr)
	return &Service{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
	}, nil
}

func roomKey(roomId types.RoomIdType) string {
	return fmt.Sprintf("room:doc:%s", roomId)
}

// GetRoom returns the cached room document, or (nil, false) on miss.
// Cache failures are misses, never errors: the store remains authoritative.
func (s *Service) GetRoom(ctx context.Context, roomId types.RoomIdType) (*types.Room, bool) {
	if s == nil || s.client == nil {
		return nil, false
	}

	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.client.Get(ctx, roomKey(roomId)).Bytes()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			return nil, false
		}
		if err != redis.Nil {
			slog.Warn("Redis room lookup failed", "roomId", roomId, "error", err)
		}
		return nil, false
	}

	var room types.Room
	if err := json.Unmarshal(res.([]byte), &room); err != nil {
		slog.Error("Corrupt cached room document, invalidating", "roomId", roomId, "error", err)
		s.InvalidateRoom(ctx, roomId)
		return nil, false
	}
	return &room, true
}

// SetRoom stores a room document after a cold read.
func (s *Service) SetRoom(ctx context.Context, room *types.Room) {
	if s == nil || s.client == nil || room == nil {
		return
	}

	data, err := json.Marshal(room)
	if err != nil {
		slog.Error("Failed to marshal room for cache", "roomId", room.ID, "error", err)
		return
	}

	_, err = s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Set(ctx, roomKey(room.ID), data, roomDocTTL).Err()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			return
		}
		slog.Warn("Redis room cache write failed", "roomId", room.ID, "error", err)
	}
}

// InvalidateRoom drops the cached document. Called on every room write so
// the next read repopulates from the store.
func (s *Service) InvalidateRoom(ctx context.Context, roomId types.RoomIdType) {
	if s == nil || s.client == nil {
		return
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Del(ctx, roomKey(roomId)).Err()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			return
		}
		slog.Warn("Redis room invalidation failed", "roomId", roomId, "error", err)
	}
}

// Ping checks Redis connectivity, used by health checks.
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil // Cache disabled, nothing to check
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
		}
		return err
	}
	return nil
}

// Close gracefully shuts down the Redis connection.
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
