package lineage

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ObserveAll applies a batch of observations. Each lineage's observations
// are applied in batch order on their own goroutine, with at most limit
// lineages in flight (limit <= 0 means no limit). Outcomes are returned in
// batch order.
//
// Delivery failures do not stop the batch; they are joined into the
// returned error. Any other failure cancels the remaining work.
func (p *Processor) ObserveAll(ctx context.Context, batch []Observation, limit int) ([]Outcome, error) {
	order := make([]string, 0)
	byLineage := make(map[string][]int)
	for i, obs := range batch {
		if _, ok := byLineage[obs.Lineage]; !ok {
			order = append(order, obs.Lineage)
		}
		byLineage[obs.Lineage] = append(byLineage[obs.Lineage], i)
	}

	outcomes := make([]Outcome, len(batch))
	var (
		mu       sync.Mutex
		delivery []error
	)

	eg, egCtx := errgroup.WithContext(ctx)
	if limit > 0 {
		eg.SetLimit(limit)
	}
	for _, lineage := range order {
		indices := byLineage[lineage]
		eg.Go(func() error {
			for _, i := range indices {
				if err := egCtx.Err(); err != nil {
					return err
				}
				out, err := p.Observe(egCtx, batch[i])
				if err != nil && !errors.Is(err, ErrDelivery) {
					return err
				}
				outcomes[i] = out
				if err != nil {
					mu.Lock()
					delivery = append(delivery, err)
					mu.Unlock()
				}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return outcomes, errors.Join(delivery...)
}
