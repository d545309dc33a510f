// Package copytrade owns the copy-trade relationship lifecycle and the fill
// replication engine.
package copytrade

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/odddkidout/hyperliquid-tracker/models"
	"github.com/odddkidout/hyperliquid-tracker/storage"

	"github.com/google/uuid"
)

// transitions is the lifecycle state machine. Stopped is terminal.
var transitions = map[models.CopyState]map[models.CopyState]bool{
	models.CopyStateActive: {
		models.CopyStatePaused:  true,
		models.CopyStateStopped: true,
	},
	models.CopyStatePaused: {
		models.CopyStateActive:  true,
		models.CopyStateStopped: true,
	},
	models.CopyStateStopped: {},
}

// relationship is the in-memory view of one config. mu guards cfg and the
// copied-position bookkeeping; the replicator holds it across its
// pre-submission state check and the submission itself, so a stop that has
// returned can never be followed by a late order.
type relationship struct {
	mu  sync.Mutex
	cfg models.CopyTradeConfig

	// replication context, cancelled once on stop
	ctx    context.Context
	cancel context.CancelFunc

	// copied position per coin, signed, and its average entry price
	positions  map[string]float64
	entryPrice map[string]float64

	// consecutive replication failures, reset on success
	failures int
}

// StartRequest carries the parameters of a start command.
type StartRequest struct {
	TraderAddress  string
	TraderName     string
	AllocationType models.AllocationType
	Allocation     float64
	Percentage     float64
	MaxPosition    float64
	StopLoss       float64
}

// Manager owns one state machine per (follower, trader) relationship.
type Manager struct {
	store storage.DataStore

	mu       sync.RWMutex
	byID     map[string]*relationship
	byTrader map[string]map[string]*relationship

	// serializes Start's duplicate check against the insert
	startMu sync.Mutex

	onFollow   func(trader string)
	onUnfollow func(trader string)

	now   func() time.Time
	newID func() string
}

// NewManager creates a lifecycle manager backed by store.
func NewManager(store storage.DataStore) *Manager {
	return &Manager{
		store:    store,
		byID:     make(map[string]*relationship),
		byTrader: make(map[string]map[string]*relationship),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// SetFollowHooks registers callbacks fired when a trader gains its first open
// config or loses its last one. Used by the feed syncer to manage
// subscriptions.
func (m *Manager) SetFollowHooks(onFollow, onUnfollow func(trader string)) {
	m.onFollow = onFollow
	m.onUnfollow = onUnfollow
}

// Load restores all non-stopped configs from the store, for crash recovery.
func (m *Manager) Load(ctx context.Context) error {
	configs, err := m.store.ListOpenConfigs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load open configs: %w", err)
	}
	for _, cfg := range configs {
		m.register(cfg)
	}
	if len(configs) > 0 {
		log.Printf("[Manager] Restored %d open copy-trade configs", len(configs))
	}
	return nil
}

func (m *Manager) register(cfg models.CopyTradeConfig) *relationship {
	ctx, cancel := context.WithCancel(context.Background())
	rel := &relationship{
		cfg:        cfg,
		ctx:        ctx,
		cancel:     cancel,
		positions:  make(map[string]float64),
		entryPrice: make(map[string]float64),
	}

	m.mu.Lock()
	m.byID[cfg.ID] = rel
	followed := m.byTrader[cfg.TraderAddress]
	first := len(followed) == 0
	if followed == nil {
		followed = make(map[string]*relationship)
		m.byTrader[cfg.TraderAddress] = followed
	}
	followed[cfg.ID] = rel
	m.mu.Unlock()

	if first && m.onFollow != nil {
		m.onFollow(cfg.TraderAddress)
	}
	return rel
}

func (m *Manager) unregister(rel *relationship) {
	m.mu.Lock()
	delete(m.byID, rel.cfg.ID)
	followed := m.byTrader[rel.cfg.TraderAddress]
	delete(followed, rel.cfg.ID)
	last := len(followed) == 0
	if last {
		delete(m.byTrader, rel.cfg.TraderAddress)
	}
	m.mu.Unlock()

	if last && m.onUnfollow != nil {
		m.onUnfollow(rel.cfg.TraderAddress)
	}
}

func validateStart(followerID string, req StartRequest) error {
	if followerID == "" {
		return &models.ValidationError{Field: "follower_id", Reason: "must not be empty"}
	}
	if req.TraderAddress == "" {
		return &models.ValidationError{Field: "trader_address", Reason: "must not be empty"}
	}
	switch req.AllocationType {
	case models.AllocationFixed:
		if req.Allocation <= 0 {
			return &models.ValidationError{Field: "allocation", Reason: "must be > 0 for fixed allocation"}
		}
	case models.AllocationPercentage:
		if req.Percentage <= 0 || req.Percentage > 100 {
			return &models.ValidationError{Field: "percentage", Reason: "must be in (0, 100]"}
		}
	default:
		return &models.ValidationError{Field: "allocation_type", Reason: "must be fixed or percentage"}
	}
	if req.MaxPosition < 0 {
		return &models.ValidationError{Field: "max_position", Reason: "must not be negative"}
	}
	if req.StopLoss < 0 {
		return &models.ValidationError{Field: "stop_loss", Reason: "must not be negative"}
	}
	return nil
}

// Start validates the request and creates a new Active config. A follower can
// have at most one non-stopped config per trader.
func (m *Manager) Start(ctx context.Context, followerID string, req StartRequest) (models.CopyTradeConfig, error) {
	if err := validateStart(followerID, req); err != nil {
		return models.CopyTradeConfig{}, err
	}

	// Two concurrent starts for the same pair must not both pass the
	// duplicate check, so check-and-insert runs under one lock.
	m.startMu.Lock()
	defer m.startMu.Unlock()

	existing, err := m.store.GetOpenConfigByPair(ctx, followerID, req.TraderAddress)
	if err != nil {
		return models.CopyTradeConfig{}, fmt.Errorf("failed to check existing config: %w", err)
	}
	if existing != nil {
		return models.CopyTradeConfig{}, &models.DuplicateRelationshipError{
			FollowerID:    followerID,
			TraderAddress: req.TraderAddress,
		}
	}

	cfg := models.CopyTradeConfig{
		ID:             m.newID(),
		FollowerID:     followerID,
		TraderAddress:  req.TraderAddress,
		TraderName:     req.TraderName,
		AllocationType: req.AllocationType,
		Allocation:     req.Allocation,
		Percentage:     req.Percentage,
		MaxPosition:    req.MaxPosition,
		StopLoss:       req.StopLoss,
		State:          models.CopyStateActive,
		StartedAt:      m.now(),
	}

	if err := m.store.SaveConfig(ctx, cfg); err != nil {
		return models.CopyTradeConfig{}, fmt.Errorf("failed to persist config: %w", err)
	}

	m.register(cfg)
	log.Printf("[Manager] Started copy trading %s for follower %s (%s)", cfg.TraderAddress, followerID, cfg.ID)
	return cfg, nil
}

// Pause transitions Active -> Paused.
func (m *Manager) Pause(ctx context.Context, configID string) error {
	return m.transitionByID(ctx, configID, models.CopyStatePaused, "")
}

// Resume transitions Paused -> Active.
func (m *Manager) Resume(ctx context.Context, configID string) error {
	return m.transitionByID(ctx, configID, models.CopyStateActive, "")
}

// Stop transitions Active or Paused -> Stopped. Stopped is terminal; any
// in-flight replication for the config is cancelled first, and once Stop
// returns no further order for it will ever be submitted.
func (m *Manager) Stop(ctx context.Context, configID string) error {
	rel, err := m.get(configID, models.CopyStateStopped)
	if err != nil {
		return err
	}

	// Best-effort cancel of an in-flight submission before waiting on the lock.
	rel.cancel()

	rel.mu.Lock()
	err = m.applyTransition(ctx, rel, models.CopyStateStopped, "")
	rel.mu.Unlock()
	if err != nil {
		return err
	}

	m.unregister(rel)
	return nil
}

// StopByTrader stops the follower's open config on a trader, returning the
// stopped config id.
func (m *Manager) StopByTrader(ctx context.Context, followerID, traderAddress string) (string, error) {
	cfg, err := m.store.GetOpenConfigByPair(ctx, followerID, traderAddress)
	if err != nil {
		return "", fmt.Errorf("failed to look up config: %w", err)
	}
	if cfg == nil {
		return "", &models.NotFoundError{Kind: "copy-trade relationship", Key: traderAddress}
	}
	return cfg.ID, m.Stop(ctx, cfg.ID)
}

func (m *Manager) transitionByID(ctx context.Context, configID string, to models.CopyState, reason string) error {
	rel, err := m.get(configID, to)
	if err != nil {
		return err
	}
	rel.mu.Lock()
	defer rel.mu.Unlock()
	return m.applyTransition(ctx, rel, to, reason)
}

// applyTransition performs one table-checked state change and persists it.
// Caller holds rel.mu.
func (m *Manager) applyTransition(ctx context.Context, rel *relationship, to models.CopyState, reason string) error {
	from := rel.cfg.State
	if !transitions[from][to] || from == to {
		return &models.InvalidStateTransitionError{ConfigID: rel.cfg.ID, From: from, To: to}
	}

	next := rel.cfg
	next.State = to
	next.PauseReason = ""
	if to == models.CopyStatePaused {
		next.PauseReason = reason
	}
	if to == models.CopyStateStopped {
		stoppedAt := m.now()
		next.StoppedAt = &stoppedAt
	}

	if err := m.store.UpdateConfig(ctx, next); err != nil {
		return fmt.Errorf("failed to persist transition: %w", err)
	}

	rel.cfg = next
	if to == models.CopyStateActive {
		rel.failures = 0
	}
	log.Printf("[Manager] Config %s: %s -> %s%s", rel.cfg.ID, from, to, reasonSuffix(reason))
	return nil
}

// autoPause is the replicator's pause path (stop-loss, recurring failures).
// Caller holds rel.mu. A config already paused or stopped is left alone.
func (m *Manager) autoPause(rel *relationship, reason string) {
	if rel.cfg.State != models.CopyStateActive {
		return
	}
	if err := m.applyTransition(context.Background(), rel, models.CopyStatePaused, reason); err != nil {
		log.Printf("[Manager] Auto-pause of %s failed: %v", rel.cfg.ID, err)
	}
}

func reasonSuffix(reason string) string {
	if reason == "" {
		return ""
	}
	return fmt.Sprintf(" (%s)", reason)
}

func (m *Manager) get(configID string, to models.CopyState) (*relationship, error) {
	m.mu.RLock()
	rel, ok := m.byID[configID]
	m.mu.RUnlock()
	if !ok {
		// Stopped configs stay queryable in the store but accept no commands.
		if cfg, err := m.store.GetConfig(context.Background(), configID); err == nil && cfg.State == models.CopyStateStopped {
			return nil, &models.InvalidStateTransitionError{ConfigID: configID, From: models.CopyStateStopped, To: to}
		}
		return nil, &models.NotFoundError{Kind: "config", Key: configID}
	}
	return rel, nil
}

// Config returns a copy of one config's current state.
func (m *Manager) Config(configID string) (models.CopyTradeConfig, error) {
	m.mu.RLock()
	rel, ok := m.byID[configID]
	m.mu.RUnlock()
	if !ok {
		cfg, err := m.store.GetConfig(context.Background(), configID)
		if err != nil {
			return models.CopyTradeConfig{}, err
		}
		return *cfg, nil
	}
	rel.mu.Lock()
	defer rel.mu.Unlock()
	return rel.cfg, nil
}

// Configs lists the follower's configs from the store, in-memory state taking
// precedence for open ones.
func (m *Manager) Configs(ctx context.Context, followerID string, activeOnly bool) ([]models.CopyTradeConfig, error) {
	configs, err := m.store.ListConfigs(ctx, followerID, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list configs: %w", err)
	}
	for i, cfg := range configs {
		if live, err := m.Config(cfg.ID); err == nil {
			configs[i] = live
		}
	}
	return configs, nil
}

// TrackedTraders lists traders that currently have at least one open config.
func (m *Manager) TrackedTraders() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.byTrader))
	for trader := range m.byTrader {
		out = append(out, trader)
	}
	return out
}

// relationshipsFor returns the open relationships following a trader.
func (m *Manager) relationshipsFor(trader string) []*relationship {
	m.mu.RLock()
	defer m.mu.RUnlock()
	followed := m.byTrader[trader]
	out := make([]*relationship, 0, len(followed))
	for _, rel := range followed {
		out = append(out, rel)
	}
	return out
}
