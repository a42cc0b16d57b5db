package checker

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/proxyworks/tunelo/internal/client"
	"github.com/proxyworks/tunelo/internal/hostaddr"
	"github.com/proxyworks/tunelo/internal/metrics"
)

// Checker runs Liveness and the configured Probers against a set of
// proxy strategies, using a pool of ParallelCount workers that pop
// tasks off a shared stack, per spec.md §4.8.
type Checker struct {
	ParallelCount int
	ProxyServers  []hostaddr.ProxyStrategy
	Probers       []Prober
	ProbeTimeout  time.Duration

	Metrics *metrics.Metrics
}

type task struct {
	idx      int
	strategy hostaddr.ProxyStrategy
}

// taskStack is the mutex-protected LIFO spec.md §4.8 calls "a shared
// stack" workers pop tasks from.
type taskStack struct {
	mu    sync.Mutex
	items []task
}

func (s *taskStack) pop() (task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return task{}, false
	}
	n := len(s.items) - 1
	t := s.items[n]
	s.items = s.items[:n]
	return t, true
}

// Run probes every configured proxy strategy concurrently, returning
// one ProxyReport per strategy in input order. Worker errors propagate
// via errgroup; individual probe failures are recorded in Reports, not
// returned as errors.
func (c *Checker) Run(ctx context.Context) ([]ProxyReport, error) {
	stack := &taskStack{items: make([]task, 0, len(c.ProxyServers))}
	for i, s := range c.ProxyServers {
		stack.items = append(stack.items, task{idx: i, strategy: s})
	}

	results := make([]ProxyReport, len(c.ProxyServers))

	workers := c.ParallelCount
	if workers <= 0 {
		workers = 1
	}
	if workers > len(c.ProxyServers) {
		workers = len(c.ProxyServers)
	}
	if workers == 0 {
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for {
				t, ok := stack.pop()
				if !ok {
					return nil
				}
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				results[t.idx] = c.checkOne(gctx, t.strategy)
			}
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// checkOne runs Liveness, then — if the strategy is alive — every
// configured Prober in order, and sorts the resulting reports by
// precedence.
func (c *Checker) checkOne(ctx context.Context, strategy hostaddr.ProxyStrategy) ProxyReport {
	connector := client.NewProxyConnector(strategy)

	reports := make([]Report, 0, 1+len(c.Probers))

	liveness := probeLiveness(ctx, connector, c.ProbeTimeout)
	reports = append(reports, liveness)
	c.recordProbe(liveness)

	if liveness.OK {
		for _, p := range c.Probers {
			r := p.Probe(ctx, connector, c.ProbeTimeout)
			reports = append(reports, r)
			c.recordProbe(r)
		}
	}

	sort.SliceStable(reports, func(i, j int) bool { return reports[i].Prober < reports[j].Prober })
	return ProxyReport{Strategy: strategy, Reports: reports}
}

func (c *Checker) recordProbe(r Report) {
	if c.Metrics == nil {
		return
	}
	outcome := "ok"
	switch {
	case r.Timeout:
		outcome = "timeout"
	case !r.OK:
		outcome = "failed"
	}
	c.Metrics.RecordCheckerProbe(r.Prober.String(), outcome)
}
