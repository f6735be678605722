// Command rxgo-demo fans a handful of independent rail computations out
// over real goroutines, supervised by an errgroup.Group, then folds their
// results down to one value through rxgo.NewReduceFull.
package main

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/xinjiayu/rxgo"
)

type rail struct {
	name    string
	compute func(ctx context.Context) (int, error)
}

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "rxgo-demo:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	rails := []rail{
		{"a", func(context.Context) (int, error) { return 3, nil }},
		{"b", func(context.Context) (int, error) { return 5, nil }},
		{"c", func(context.Context) (int, error) { return 7, nil }},
		{"d", func(context.Context) (int, error) { return 11, nil }},
	}

	results := make([]int, len(rails))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range rails {
		i, r := i, r
		g.Go(func() error {
			v, err := r.compute(gctx)
			if err != nil {
				return fmt.Errorf("rail %s: %w", r.name, err)
			}
			results[i] = v
			return nil
		})
	}
	// errgroup supervises the fan-out and surfaces the first rail's error,
	// cancelling gctx for the rest — the goroutine-orchestration analogue of
	// ReduceFull's own first-error-wins errSlot, one layer up.
	if err := g.Wait(); err != nil {
		return err
	}

	sources := make([]rxgo.Publisher[int], len(results))
	for i, v := range results {
		sources[i] = rxgo.Just(v)
	}

	sum := rxgo.NewReduceFull(func(a, b int) int { return a + b }, sources...)

	out := &printSubscriber{done: make(chan struct{})}
	sum.Subscribe(out)
	<-out.done
	if out.err != nil {
		return out.err
	}
	fmt.Println("reduced:", out.value)
	return nil
}

// printSubscriber is a minimal terminal Subscriber for a single-value
// result: request everything up front, capture whatever arrives, and
// signal completion on the done channel.
type printSubscriber struct {
	value int
	err   error
	done  chan struct{}
}

func (p *printSubscriber) OnSubscribe(s rxgo.Subscription) { s.Request(rxgo.MaxDemand) }
func (p *printSubscriber) OnNext(v int)                    { p.value = v }
func (p *printSubscriber) OnError(err error) {
	p.err = err
	close(p.done)
}
func (p *printSubscriber) OnComplete() { close(p.done) }
