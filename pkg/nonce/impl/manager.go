package impl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gatewaynetwork/go-txgateway/pkg/chainclient"
	"github.com/gatewaynetwork/go-txgateway/pkg/nonce"
	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
)

// LocalManager implements a nonce manager that serializes allocation per address
// and persists its records locally. The critical section is a real per-address
// mutex held across the remote suspension points, so the discipline holds under
// OS threads and not just cooperative scheduling.
type LocalManager struct {
	log         zerolog.Logger
	chain       string
	store       nonce.Store
	chainClient chainclient.ChainClient

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	records map[string]int64

	managerMetrics
}

var _ nonce.Manager = (*LocalManager)(nil)

// NewLocalManager creates a new local nonce manager for a chain.
func NewLocalManager(chain string, store nonce.Store, chainClient chainclient.ChainClient) *LocalManager {
	log := logger.With().
		Str("component", "noncemanager").
		Str("chain", chain).
		Logger()

	m := &LocalManager{
		log:         log,
		chain:       chain,
		store:       store,
		chainClient: chainClient,
		locks:       map[string]*sync.Mutex{},
		records:     map[string]int64{},
	}
	if err := m.initMetrics(chain); err != nil {
		log.Error().Err(err).Msg("initializing metrics instruments")
	}

	return m
}

// Reconcile syncs the local record for an address against the node's reported
// transaction count, taking the maximum of the two. A remote failure here is
// surfaced to the caller: starting with an unknown nonce baseline is fatal to
// readiness, not something to retry silently.
func (m *LocalManager) Reconcile(ctx context.Context, address string) error {
	lock := m.addressLock(address)
	lock.Lock()
	defer lock.Unlock()

	if _, err := m.reconcileLocked(ctx, address); err != nil {
		return fmt.Errorf("reconciling nonce for %s: %w", address, err)
	}
	return nil
}

// Allocate reserves and returns the next nonce for the address.
func (m *LocalManager) Allocate(ctx context.Context, address string) (int64, error) {
	return m.Provide(ctx, address, func(int64) (bool, error) {
		return true, nil
	})
}

// Provide runs action with the next candidate nonce inside the per-address critical section.
func (m *LocalManager) Provide(ctx context.Context, address string, action nonce.Action) (int64, error) {
	lock := m.addressLock(address)
	lock.Lock()
	defer lock.Unlock()

	candidate, err := m.candidateLocked(ctx, address)
	if err != nil {
		return 0, err
	}

	submitted, actionErr := action(candidate)
	if actionErr != nil && !submitted {
		// Nothing observable reached the network; the candidate isn't wasted.
		return 0, actionErr
	}

	if err := m.commitLocked(ctx, address, candidate); err != nil {
		return 0, err
	}
	m.mAllocations.Add(ctx, 1, m.mBaseLabels...)

	if actionErr != nil {
		// Ambiguous outcome: the nonce is burned to keep the sequence gap-safe.
		m.log.Warn().
			Err(actionErr).
			Str("address", address).
			Int64("nonce", candidate).
			Msg("action failed after possible submission, nonce committed")
		return candidate, actionErr
	}

	return candidate, nil
}

// ProvideExplicit runs action with a caller-supplied nonce, bypassing allocation.
func (m *LocalManager) ProvideExplicit(ctx context.Context, address string, n int64, action nonce.Action) error {
	lock := m.addressLock(address)
	lock.Lock()
	defer lock.Unlock()

	_, err := action(n)
	return err
}

// candidateLocked computes max(lastAllocated+1, remote reported count).
// Must be called with the address lock held.
func (m *LocalManager) candidateLocked(ctx context.Context, address string) (int64, error) {
	m.mu.Lock()
	last, known := m.records[address]
	m.mu.Unlock()

	if !known {
		var err error
		if last, err = m.reconcileLocked(ctx, address); err != nil {
			return 0, fmt.Errorf("first allocation for %s: %w", address, err)
		}
		m.mu.Lock()
		m.records[address] = last
		m.mu.Unlock()
		known = true
	}

	candidate := last + 1
	remote, err := m.chainClient.ReportedNonce(ctx, address)
	if err != nil {
		// The local record is authoritative enough to keep allocating; a remote
		// blip must not stall every submission on this address.
		m.log.Warn().
			Err(err).
			Str("address", address).
			Int64("candidate", candidate).
			Msg("remote nonce unavailable, allocating from local record")
		return candidate, nil
	}
	if remote > candidate {
		candidate = remote
	}

	return candidate, nil
}

// commitLocked advances the record for the address. Must be called with the address lock held.
func (m *LocalManager) commitLocked(ctx context.Context, address string, candidate int64) error {
	m.mu.Lock()
	last, known := m.records[address]
	m.mu.Unlock()

	if known && candidate <= last {
		m.mConflicts.Add(ctx, 1, m.mBaseLabels...)
		m.log.Error().
			Str("address", address).
			Int64("candidate", candidate).
			Int64("lastAllocated", last).
			Msg("allocation went backwards, this indicates a reconciliation bug")
		return nonce.ErrNonceConflict
	}

	m.mu.Lock()
	m.records[address] = candidate
	m.mu.Unlock()

	if err := m.store.UpsertRecord(ctx, m.chain, address, candidate); err != nil {
		// The in-memory record is already advanced; losing the write costs a
		// reconciliation on restart, not correctness.
		m.log.Error().
			Err(err).
			Str("address", address).
			Int64("nonce", candidate).
			Msg("failed to persist nonce record")
	}

	return nil
}

// reconcileLocked loads the stored record and the remote reported count and
// returns the greater baseline. Must be called with the address lock held.
func (m *LocalManager) reconcileLocked(ctx context.Context, address string) (int64, error) {
	remote, err := m.chainClient.ReportedNonce(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("get reported nonce: %w", err)
	}
	// The node reports the count of known transactions, so the last used nonce is count-1.
	last := remote - 1

	record, err := m.store.GetRecord(ctx, m.chain, address)
	if err != nil && err != nonce.ErrNoRecord {
		return 0, fmt.Errorf("get nonce record: %s", err)
	}
	if err == nil && record.LastAllocated > last {
		last = record.LastAllocated
	}

	if err := m.store.UpsertRecord(ctx, m.chain, address, last); err != nil {
		return 0, fmt.Errorf("upsert nonce record: %s", err)
	}

	m.mu.Lock()
	m.records[address] = last
	m.mu.Unlock()

	m.log.Info().
		Str("address", address).
		Int64("lastAllocated", last).
		Int64("remoteReported", remote).
		Time("syncedAt", time.Now()).
		Msg("nonce record reconciled")

	return last, nil
}

func (m *LocalManager) addressLock(address string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[address]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[address] = lock
	}
	return lock
}
