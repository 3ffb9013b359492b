package repohost

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/sogos/etlcore/internal/domain/service"
)

// resourceLimiters paces one tenant's calls per independent resource
// class (core REST, search REST, GraphQL), following the teacher's
// RateLimiter wrapper around golang.org/x/time/rate, generalized from a
// single limiter to one per resource class since GitHub tracks budgets
// separately per spec §4.2.
type resourceLimiters struct {
	mu       sync.Mutex
	limiters map[service.RateLimitResource]*rate.Limiter
	snaps    map[service.RateLimitResource]service.RateLimitSnapshot
}

func newResourceLimiters() *resourceLimiters {
	return &resourceLimiters{
		limiters: map[service.RateLimitResource]*rate.Limiter{
			service.ResourceCore:    rate.NewLimiter(rate.Limit(5), 10),
			service.ResourceSearch:  rate.NewLimiter(rate.Limit(0.5), 2),
			service.ResourceGraphQL: rate.NewLimiter(rate.Limit(2), 5),
		},
		snaps: map[service.RateLimitResource]service.RateLimitSnapshot{},
	}
}

func (r *resourceLimiters) limiterFor(resource service.RateLimitResource) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.limiters[resource]
}

func (r *resourceLimiters) record(resource service.RateLimitResource, snap service.RateLimitSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps[resource] = snap
}

func (r *resourceLimiters) snapshot(resource service.RateLimitResource) service.RateLimitSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snaps[resource]
}
