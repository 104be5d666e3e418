package market

import (
	"sync"
	"time"

	"github.com/bighogz/ownership-lens/internal/models"
)

// QuotaTracker counts calls per provider per UTC day. A quota of zero means
// the provider is not metered.
type QuotaTracker struct {
	mu        sync.Mutex
	now       func() time.Time
	quotas    map[string]int
	day       string
	used      map[string]int
	exhausted map[string]bool
}

func NewQuotaTracker(quotas map[string]int, now func() time.Time) *QuotaTracker {
	if now == nil {
		now = time.Now
	}
	q := &QuotaTracker{now: now, quotas: map[string]int{}}
	for k, v := range quotas {
		q.quotas[k] = v
	}
	q.reset(q.today())
	return q
}

func (q *QuotaTracker) today() string {
	return q.now().UTC().Format("2006-01-02")
}

func (q *QuotaTracker) reset(day string) {
	q.day = day
	q.used = map[string]int{}
	q.exhausted = map[string]bool{}
}

func (q *QuotaTracker) rollover() {
	if d := q.today(); d != q.day {
		q.reset(d)
	}
}

// Acquire records one call against name, or reports false when the provider
// is out of quota for today.
func (q *QuotaTracker) Acquire(name string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()
	if q.exhausted[name] {
		return false
	}
	if limit := q.quotas[name]; limit > 0 && q.used[name] >= limit {
		q.exhausted[name] = true
		return false
	}
	q.used[name]++
	return true
}

// MarkExhausted disables name until the next UTC day.
func (q *QuotaTracker) MarkExhausted(name string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()
	q.exhausted[name] = true
}

func (q *QuotaTracker) Usage(names []string) []models.ProviderUsage {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()
	out := make([]models.ProviderUsage, 0, len(names))
	for _, name := range names {
		u := models.ProviderUsage{
			Name:       name,
			Used:       q.used[name],
			DailyQuota: q.quotas[name],
			Exhausted:  q.exhausted[name],
			Day:        q.day,
		}
		if u.DailyQuota > 0 {
			u.Remaining = max(0, u.DailyQuota-u.Used)
			if u.Remaining == 0 {
				u.Exhausted = true
			}
		}
		if u.Exhausted {
			u.Remaining = 0
		}
		out = append(out, u)
	}
	return out
}
