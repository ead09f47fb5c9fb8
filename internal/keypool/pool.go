// Package keypool rotates provider API credentials and enforces per-key
// cooldowns so a single rate-limited key never stalls the whole pipeline.
package keypool

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// KeyStatus is the lifecycle state of one credential.
type KeyStatus string

const (
	StatusActive  KeyStatus = "active"
	StatusCooling KeyStatus = "cooling"
	StatusFailed  KeyStatus = "failed"
)

// DefaultCooldown is how long a rate-limited key sits out.
const DefaultCooldown = 15 * time.Minute

// Key is one provider credential with its rotation state.
type Key struct {
	ID            string
	Credential    string
	Status        KeyStatus
	CooldownUntil time.Time
	SuccessCount  int64
	RateLimitHits int64
}

// Pool is a thread-safe round-robin rotation over provider keys. Cooling
// keys are re-promoted lazily on the next Next call once their cooldown
// has elapsed; failed keys are out for the process lifetime.
type Pool struct {
	mu       sync.Mutex
	keys     []*Key
	cursor   int
	cooldown time.Duration
	now      func() time.Time
}

// NewPool builds a pool from raw credentials. Empty credentials are skipped.
func NewPool(credentials []string) *Pool {
	p := &Pool{cooldown: DefaultCooldown, now: time.Now}
	for i, cred := range credentials {
		if cred == "" {
			continue
		}
		p.keys = append(p.keys, &Key{
			ID:         keyID(i, cred),
			Credential: cred,
			Status:     StatusActive,
		})
	}
	return p
}

func keyID(i int, cred string) string {
	tail := cred
	if len(tail) > 4 {
		tail = tail[len(tail)-4:]
	}
	return "key-" + string(rune('a'+i%26)) + "-" + tail
}

// SetCooldown overrides the rate-limit cooldown (tests, config).
func (p *Pool) SetCooldown(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cooldown = d
}

// Next returns the next active key in round-robin order, promoting any key
// whose cooldown has elapsed first. Returns nil when no key is usable.
func (p *Pool) Next() *Key {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for _, k := range p.keys {
		if k.Status == StatusCooling && !now.Before(k.CooldownUntil) {
			k.Status = StatusActive
			log.Debug().Str("key", k.ID).Msg("key cooldown elapsed, back in rotation")
		}
	}

	n := len(p.keys)
	for i := 0; i < n; i++ {
		k := p.keys[p.cursor%n]
		p.cursor++
		if k.Status == StatusActive {
			return k
		}
	}
	return nil
}

// MarkRateLimited puts the key on cooldown.
func (p *Pool) MarkRateLimited(k *Key) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k.Status = StatusCooling
	k.CooldownUntil = p.now().Add(p.cooldown)
	k.RateLimitHits++
	log.Warn().Str("key", k.ID).Time("until", k.CooldownUntil).
		Msg("key rate limited, cooling")
}

// MarkFailed burns the key permanently (revoked or invalid credential).
func (p *Pool) MarkFailed(k *Key) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k.Status = StatusFailed
	log.Error().Str("key", k.ID).Msg("key rejected by provider, removed from pool")
}

// MarkSuccess records a successful request on the key.
func (p *Pool) MarkSuccess(k *Key) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k.SuccessCount++
}

// Counts returns how many keys are in each status.
func (p *Pool) Counts() (active, cooling, failed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	for _, k := range p.keys {
		switch {
		case k.Status == StatusFailed:
			failed++
		case k.Status == StatusCooling && now.Before(k.CooldownUntil):
			cooling++
		default:
			active++
		}
	}
	return
}

// Size is the total number of keys, regardless of status.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}
