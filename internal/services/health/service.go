package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

const defaultCheckTimeout = 2 * time.Second

// Pinger is anything that can report reachability, such as *sql.DB or the event bus.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// Service encapsulates health-related checks.
type Service struct {
	checks  map[string]Pinger
	timeout time.Duration
}

// Report is the readiness payload. Checks maps each dependency to "ok" or its error.
type Report struct {
	OK     bool              `json:"ok"`
	Checks map[string]string `json:"checks,omitempty"`
}

// NewService constructs a new health service.
func NewService() *Service {
	return &Service{checks: map[string]Pinger{}, timeout: defaultCheckTimeout}
}

// Register adds a named dependency check. A nil pinger is ignored.
func (s *Service) Register(name string, p Pinger) *Service {
	if p != nil {
		s.checks[name] = p
	}
	return s
}

// Status returns a simple liveness payload.
func (s *Service) Status() map[string]bool {
	return map[string]bool{"ok": true}
}

// Ready pings every registered dependency concurrently.
func (s *Service) Ready(ctx context.Context) Report {
	report := Report{OK: true, Checks: make(map[string]string, len(s.checks))}
	if len(s.checks) == 0 {
		return report
	}

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, name := range names {
		wg.Add(1)
		go func(name string, p Pinger) {
			defer wg.Done()
			result := "ok"
			if err := p.PingContext(ctx); err != nil {
				result = err.Error()
			}
			mu.Lock()
			defer mu.Unlock()
			report.Checks[name] = result
			if result != "ok" {
				report.OK = false
			}
		}(name, s.checks[name])
	}
	wg.Wait()
	return report
}
