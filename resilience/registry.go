package resilience

import (
	"sort"
	"sync"

	"github.com/shirou/gopsutil/v4/mem"
)

// Registry owns one circuit breaker per operation name, created lazily on
// first use. There is no process-global registry; construct one (usually via
// the Protector) and share it.
type Registry struct {
	defaultConfig CircuitBreakerConfig
	clock         Clock

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	policies map[string]CircuitBreakerConfig

	hookMu sync.RWMutex
	hooks  []StateChangeHook
}

// NewRegistry creates a registry whose breakers use defaultConfig unless a
// per-operation policy overrides it.
func NewRegistry(defaultConfig CircuitBreakerConfig) *Registry {
	return &Registry{
		defaultConfig: defaultConfig.normalize(),
		clock:         SystemClock,
		breakers:      make(map[string]*CircuitBreaker),
		policies:      make(map[string]CircuitBreakerConfig),
	}
}

// Configure sets a per-operation breaker config. It only affects breakers
// created after the call.
func (r *Registry) Configure(operation string, config CircuitBreakerConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[operation] = config.normalize()
}

// OnStateChange registers a hook invoked for every state transition of every
// breaker in the registry.
func (r *Registry) OnStateChange(hook StateChangeHook) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.hooks = append(r.hooks, hook)
}

func (r *Registry) dispatch(operation string, from, to CircuitBreakerState) {
	r.hookMu.RLock()
	hooks := r.hooks
	r.hookMu.RUnlock()
	for _, hook := range hooks {
		hook(operation, from, to)
	}
}

// Get returns the breaker for the operation, creating it on first use.
func (r *Registry) Get(operation string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[operation]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[operation]; ok {
		return cb
	}
	config := r.defaultConfig
	if policy, ok := r.policies[operation]; ok {
		config = policy
	}
	cb = NewCircuitBreaker(operation, config)
	cb.clock = r.clock
	cb.hook = r.dispatch
	r.breakers[operation] = cb
	return cb
}

// Status returns a snapshot of every known breaker keyed by operation.
func (r *Registry) Status() map[string]BreakerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]BreakerStatus, len(r.breakers))
	for name, cb := range r.breakers {
		out[name] = cb.Status()
	}
	return out
}

// Reset forces the named breaker to CLOSED. It reports false when no breaker
// exists for the operation; resetting never creates one.
func (r *Registry) Reset(operation string) bool {
	r.mu.RLock()
	cb, ok := r.breakers[operation]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	cb.Reset()
	return true
}

// ForceOpen trips the named breaker, creating it if needed so an operator
// can block traffic to an operation before its first call.
func (r *Registry) ForceOpen(operation string) {
	r.Get(operation).ForceOpen()
}

// ForceClose is Reset under the name operators expect next to ForceOpen.
func (r *Registry) ForceClose(operation string) bool {
	return r.Reset(operation)
}

// MemoryStats reports process-host memory usage captured with the health
// snapshot.
type MemoryStats struct {
	TotalBytes  uint64  `json:"total_bytes"`
	UsedBytes   uint64  `json:"used_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// Health summarizes breaker states across the registry.
type Health struct {
	Healthy        bool        `json:"healthy"`
	Total          int         `json:"total"`
	Closed         int         `json:"closed"`
	HalfOpen       int         `json:"half_open"`
	Open           int         `json:"open"`
	OpenOperations []string    `json:"open_operations,omitempty"`
	Memory         MemoryStats `json:"memory"`
}

// HealthCheck reports counts of breakers by state. Healthy means no breaker
// is OPEN.
func (r *Registry) HealthCheck() Health {
	r.mu.RLock()
	defer r.mu.RUnlock()
	health := Health{Healthy: true, Total: len(r.breakers)}
	for name, cb := range r.breakers {
		switch cb.State() {
		case StateClosed:
			health.Closed++
		case StateHalfOpen:
			health.HalfOpen++
		case StateOpen:
			health.Open++
			health.OpenOperations = append(health.OpenOperations, name)
			health.Healthy = false
		}
	}
	sort.Strings(health.OpenOperations)
	if vm, err := mem.VirtualMemory(); err == nil {
		health.Memory = MemoryStats{
			TotalBytes:  vm.Total,
			UsedBytes:   vm.Used,
			UsedPercent: vm.UsedPercent,
		}
	}
	return health
}
