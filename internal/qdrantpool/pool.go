// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package qdrantpool maintains a bounded pool of gRPC connections to a
// Qdrant vector database, handing out health-checked handles and
// recycling them on age or failure.
//
// The teacher repo has no reusable connection-pool package to adapt, so
// this one is built fresh in its idiom: functional options, slog logging,
// an otel span around Acquire, and
// Prometheus gauges/counters for pool occupancy and outcomes.
package qdrantpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// Sentinel error kinds for the pool's failure taxonomy. Wrap with
// fmt.Errorf's %w to preserve errors.Is matching at the facade's retry
// boundary.
var (
	ErrPoolExhausted      = errors.New("qdrantpool: pool exhausted")
	ErrConnectionHealth   = errors.New("qdrantpool: connection health check failed")
	ErrConnectionCreation = errors.New("qdrantpool: connection creation failed")
)

const (
	defaultMinSize             = 2
	defaultMaxSize             = 10
	defaultAcquireTimeout      = 5 * time.Second
	defaultRecycleAge          = time.Hour
	defaultHealthCheckInterval = 60 * time.Second
	mediumHealthCheckBudget    = 50 * time.Millisecond
	deepHealthCheckBudget      = 200 * time.Millisecond
)

var (
	poolSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "claude_rag",
		Subsystem: "qdrantpool",
		Name:      "size",
		Help:      "Current number of live connections, by state (idle, active)",
	}, []string{"state"})

	poolOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "claude_rag",
		Subsystem: "qdrantpool",
		Name:      "outcomes_total",
		Help:      "Pool lifecycle outcomes by kind (created, recycled, failed)",
	}, []string{"kind"})

	acquireLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "claude_rag",
		Subsystem: "qdrantpool",
		Name:      "acquire_latency_seconds",
		Help:      "Time spent waiting for Acquire to return a connection",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	})

	healthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "claude_rag",
		Subsystem: "qdrantpool",
		Name:      "health_check_failures_total",
		Help:      "Total health check failures across all tiers",
	})
)

// Config bounds and tunes the pool.
type Config struct {
	// Endpoint is the Qdrant gRPC host:port (e.g. "localhost:6334").
	Endpoint string

	// APIKey, if non-empty, is sent as the "api-key" gRPC metadata header
	// on every request. Callers open their memguard enclave just long
	// enough to pass the plaintext here; the pool does not retain it
	// beyond building the per-RPC credential.
	APIKey string

	// UseTLS selects a TLS transport credential instead of insecure.
	UseTLS bool

	// MinSize is the floor of live connections the pool tries to maintain.
	MinSize int
	// MaxSize bounds total live connections (idle + in-use).
	MaxSize int

	// AcquireTimeout bounds how long Acquire waits when the pool is at
	// MaxSize and no idle connection is available.
	AcquireTimeout time.Duration
	// RecycleAge is the maximum connection lifetime before Release closes
	// it instead of returning it to the idle queue.
	RecycleAge time.Duration
	// HealthCheckInterval is the period of the background deep health
	// check sweep over idle connections.
	HealthCheckInterval time.Duration

	// HealthCheckCollection names a collection the deep health check
	// round-trips against. Empty disables the deep round-trip leg
	// (list-collections medium check still runs).
	HealthCheckCollection string

	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.MinSize <= 0 {
		c.MinSize = defaultMinSize
	}
	if c.MaxSize < c.MinSize {
		c.MaxSize = defaultMaxSize
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = defaultAcquireTimeout
	}
	if c.RecycleAge <= 0 {
		c.RecycleAge = defaultRecycleAge
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = defaultHealthCheckInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Conn is a pooled handle onto one gRPC connection, exposing the Qdrant
// service stubs a caller needs.
type Conn struct {
	cc        *grpc.ClientConn
	points    qdrant.PointsClient
	colls     qdrant.CollectionsClient
	qdrantCli qdrant.QdrantClient
	createdAt time.Time
}

// Points returns the pooled PointsClient stub.
func (c *Conn) Points() qdrant.PointsClient { return c.points }

// Collections returns the pooled CollectionsClient stub.
func (c *Conn) Collections() qdrant.CollectionsClient { return c.colls }

// fastCheck reports liveness with no RPC: a non-nil connection whose gRPC
// state has not gone permanently unusable.
func (c *Conn) fastCheck() bool {
	return c != nil && c.cc != nil && c.cc.GetState() != connectivity.Shutdown
}

// mediumCheck round-trips a cheap list-collections RPC.
func (c *Conn) mediumCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, mediumHealthCheckBudget*10)
	defer cancel()
	if _, err := c.colls.List(ctx, &qdrant.ListCollectionsRequest{}); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionHealth, err)
	}
	return nil
}

// deepCheck round-trips against a known collection when configured,
// otherwise falls back to the medium check.
func (c *Conn) deepCheck(ctx context.Context, collection string) error {
	if collection == "" {
		return c.mediumCheck(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, deepHealthCheckBudget*5)
	defer cancel()
	if _, err := c.colls.CollectionExists(ctx, &qdrant.CollectionExistsRequest{CollectionName: collection}); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionHealth, err)
	}
	return nil
}

func (c *Conn) close() {
	if c.cc != nil {
		_ = c.cc.Close()
	}
}

// Pool hands out health-checked Conn handles up to Config.MaxSize,
// reusing idle connections younger than RecycleAge and replenishing
// failed slots in the background.
//
// Thread Safety: safe for concurrent use.
type Pool struct {
	cfg Config

	idle chan *Conn
	// liveCount tracks every connection the pool currently owns, idle or
	// in-use. Incrementing it and checking it against MaxSize MUST happen
	// under mu so two concurrent Acquire calls can never both reserve the
	// last slot; creating the underlying gRPC connection happens outside
	// the lock so a slow dial never blocks other callers' reservations.
	mu         sync.Mutex
	liveCount  int
	closed     atomic.Bool
	stopHealth chan struct{}
	wg         sync.WaitGroup
}

// Option configures a Pool at construction.
type Option func(*Config)

// WithHealthCheckCollection sets the collection the deep health check
// round-trips against.
func WithHealthCheckCollection(name string) Option {
	return func(c *Config) { c.HealthCheckCollection = name }
}

// New opens a Pool against cfg.Endpoint and eagerly creates MinSize
// connections. A failure to reach MinSize at startup is logged but not
// fatal; the pool still starts and will retry lazily on Acquire.
func New(ctx context.Context, cfg Config, opts ...Option) (*Pool, error) {
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.setDefaults()
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("qdrantpool: endpoint must not be empty")
	}

	p := &Pool{
		cfg:        cfg,
		idle:       make(chan *Conn, cfg.MaxSize),
		stopHealth: make(chan struct{}),
	}

	for i := 0; i < cfg.MinSize; i++ {
		conn, err := p.dial(ctx)
		if err != nil {
			cfg.Logger.Warn("qdrantpool: initial connection failed", "index", i, "error", err)
			continue
		}
		p.mu.Lock()
		p.liveCount++
		p.mu.Unlock()
		p.idle <- conn
		poolOutcomes.WithLabelValues("created").Inc()
	}

	p.wg.Add(1)
	go p.healthLoop()

	return p, nil
}

func (p *Pool) dial(ctx context.Context) (*Conn, error) {
	var transportCreds grpc.DialOption
	if p.cfg.UseTLS {
		transportCreds = grpc.WithTransportCredentials(credentials.NewTLS(nil))
	} else {
		transportCreds = grpc.WithTransportCredentials(insecure.NewCredentials())
	}

	dialOpts := []grpc.DialOption{transportCreds}
	if p.cfg.APIKey != "" {
		dialOpts = append(dialOpts, grpc.WithPerRPCCredentials(apiKeyCreds{
			key:        p.cfg.APIKey,
			requireTLS: p.cfg.UseTLS,
		}))
	}

	cc, err := grpc.NewClient(p.cfg.Endpoint, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionCreation, err)
	}

	return &Conn{
		cc:        cc,
		points:    qdrant.NewPointsClient(cc),
		colls:     qdrant.NewCollectionsClient(cc),
		qdrantCli: qdrant.NewQdrantClient(cc),
		createdAt: time.Now(),
	}, nil
}

// apiKeyCreds sends the pool's API key as the "api-key" gRPC metadata
// header on every request, matching Qdrant Cloud's auth convention.
type apiKeyCreds struct {
	key        string
	requireTLS bool
}

func (a apiKeyCreds) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{"api-key": a.key}, nil
}

func (a apiKeyCreds) RequireTransportSecurity() bool { return a.requireTLS }

// Acquire returns a health-checked Conn, creating a new connection if the
// idle queue is empty and the pool has not reached MaxSize, or waiting up
// to Config.AcquireTimeout otherwise.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	ctx, span := otel.Tracer("claude-rag").Start(ctx, "qdrantpool.Acquire",
		oteltrace.WithAttributes(attribute.String("endpoint", p.cfg.Endpoint)),
	)
	defer span.End()
	start := time.Now()
	defer func() { acquireLatency.Observe(time.Since(start).Seconds()) }()

	for {
		select {
		case conn := <-p.idle:
			if err := conn.mediumCheck(ctx); err != nil {
				healthFailures.Inc()
				p.cfg.Logger.Warn("qdrantpool: idle connection failed medium health check", "error", err)
				conn.close()
				p.mu.Lock()
				p.liveCount--
				p.mu.Unlock()
				poolOutcomes.WithLabelValues("failed").Inc()
				continue
			}
			poolSize.WithLabelValues("active").Inc()
			return conn, nil
		default:
		}

		p.mu.Lock()
		if p.liveCount < p.cfg.MaxSize {
			p.liveCount++
			p.mu.Unlock()

			conn, err := p.dial(ctx)
			if err != nil {
				p.mu.Lock()
				p.liveCount--
				p.mu.Unlock()
				span.RecordError(err)
				span.SetStatus(codes.Error, "connection creation failed")
				poolOutcomes.WithLabelValues("failed").Inc()
				return nil, err
			}
			poolOutcomes.WithLabelValues("created").Inc()
			poolSize.WithLabelValues("active").Inc()
			return conn, nil
		}
		p.mu.Unlock()

		timeout := time.NewTimer(p.cfg.AcquireTimeout)
		select {
		case conn := <-p.idle:
			timeout.Stop()
			if err := conn.mediumCheck(ctx); err != nil {
				healthFailures.Inc()
				conn.close()
				p.mu.Lock()
				p.liveCount--
				p.mu.Unlock()
				poolOutcomes.WithLabelValues("failed").Inc()
				continue
			}
			poolSize.WithLabelValues("active").Inc()
			return conn, nil
		case <-timeout.C:
			span.SetAttributes(attribute.Int("pool.live_count", p.liveCount))
			span.SetStatus(codes.Error, "pool exhausted")
			return nil, fmt.Errorf("%w: timed out after %s", ErrPoolExhausted, p.cfg.AcquireTimeout)
		case <-ctx.Done():
			timeout.Stop()
			return nil, ctx.Err()
		}
	}
}

// Release returns conn to the idle queue if it is healthy and younger
// than RecycleAge, otherwise closes it and frees its slot.
func (p *Pool) Release(conn *Conn) {
	poolSize.WithLabelValues("active").Dec()

	if conn == nil {
		return
	}
	if p.closed.Load() || !conn.fastCheck() || time.Since(conn.createdAt) >= p.cfg.RecycleAge {
		conn.close()
		p.mu.Lock()
		p.liveCount--
		p.mu.Unlock()
		poolOutcomes.WithLabelValues("recycled").Inc()
		return
	}

	select {
	case p.idle <- conn:
	default:
		// Idle queue is already at MaxSize capacity; this connection is
		// surplus to liveCount bookkeeping, so close it rather than block.
		conn.close()
		p.mu.Lock()
		p.liveCount--
		p.mu.Unlock()
	}
}

// healthLoop runs a deep health check over idle connections every
// HealthCheckInterval, closing and replacing unhealthy ones up to MinSize.
func (p *Pool) healthLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopHealth:
			return
		case <-ticker.C:
			p.sweepIdle()
			p.replenish()
		}
	}
}

func (p *Pool) sweepIdle() {
	n := len(p.idle)
	for i := 0; i < n; i++ {
		var conn *Conn
		select {
		case conn = <-p.idle:
		default:
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), deepHealthCheckBudget*10)
		err := conn.deepCheck(ctx, p.cfg.HealthCheckCollection)
		cancel()

		if err != nil {
			healthFailures.Inc()
			p.cfg.Logger.Warn("qdrantpool: idle connection failed deep health check", "error", err)
			conn.close()
			p.mu.Lock()
			p.liveCount--
			p.mu.Unlock()
			poolOutcomes.WithLabelValues("failed").Inc()
			continue
		}
		p.idle <- conn
	}
}

func (p *Pool) replenish() {
	p.mu.Lock()
	deficit := p.cfg.MinSize - p.liveCount
	if deficit < 0 {
		deficit = 0
	}
	p.liveCount += deficit
	p.mu.Unlock()

	for i := 0; i < deficit; i++ {
		conn, err := p.dial(context.Background())
		if err != nil {
			p.mu.Lock()
			p.liveCount--
			p.mu.Unlock()
			p.cfg.Logger.Warn("qdrantpool: replenish dial failed", "error", err)
			continue
		}
		poolOutcomes.WithLabelValues("created").Inc()
		p.idle <- conn
	}
}

// Stats reports a point-in-time snapshot of pool occupancy.
type Stats struct {
	Idle int
	Live int
}

// Stats returns the current idle queue depth and total live count.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Idle: len(p.idle), Live: p.liveCount}
}

// Close stops the background health loop and closes every connection the
// pool holds idle. Connections still checked out via Acquire at the time
// of Close are not closed here; Release closes each of them when it is
// returned after Close.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(p.stopHealth)
	p.wg.Wait()

	close(p.idle)
	for conn := range p.idle {
		conn.close()
	}
	return nil
}
