// Keyed worker pool: work sharing a key runs in submission order, work with different keys runs in parallel.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Task func(ctx context.Context) error

// Parallel runs work on a fixed number of workers.
//
// Tasks are run with a context which is not tied to the caller of AddWork: once accepted, work runs to completion even if the submitting connection goes away.
type Parallel struct {
	maxConcurrency int

	feeder chan *workItem
	out    chan struct{}

	lk     sync.Mutex
	active map[string][]*workItem

	ident string

	itemsAdded     prometheus.Counter
	itemsProcessed prometheus.Counter
	itemsFailed    prometheus.Counter
	itemsDropped   prometheus.Counter
	workersActive  prometheus.Gauge

	log *slog.Logger
}

type workItem struct {
	key     string
	task    Task
	control string
}

func NewParallel(maxC int, ident string) *Parallel {
	if maxC < 1 {
		maxC = 1
	}
	p := &Parallel{
		maxConcurrency: maxC,

		feeder: make(chan *workItem),
		active: make(map[string][]*workItem),
		out:    make(chan struct{}),

		ident: ident,

		itemsAdded:     workItemsAdded.WithLabelValues(ident),
		itemsProcessed: workItemsProcessed.WithLabelValues(ident),
		itemsFailed:    workItemsFailed.WithLabelValues(ident),
		itemsDropped:   workItemsDropped.WithLabelValues(ident),
		workersActive:  workersActive.WithLabelValues(ident),

		log: slog.Default().With("system", "scheduler", "pool", ident),
	}

	for i := 0; i < maxC; i++ {
		go p.worker()
	}

	p.workersActive.Set(float64(maxC))

	return p
}

// Stops all workers after they finish their current task. Work still queued behind a key is dropped.
func (p *Parallel) Shutdown() {
	p.log.Info("shutting down scheduler")

	for i := 0; i < p.maxConcurrency; i++ {
		p.feeder <- &workItem{
			control: "stop",
		}
	}

	close(p.feeder)

	for i := 0; i < p.maxConcurrency; i++ {
		<-p.out
	}

	p.workersActive.Set(0)
	p.log.Info("scheduler shutdown complete")
}

// Queues task behind any earlier work with the same key. Blocks until a worker is free if the key is idle; ctx only bounds that wait.
// If ctx ends first, anything queued behind the key in the meantime is dropped and counted.
func (p *Parallel) AddWork(ctx context.Context, key string, task Task) error {
	p.itemsAdded.Inc()
	w := &workItem{
		key:  key,
		task: task,
	}
	p.lk.Lock()

	a, ok := p.active[key]
	if ok {
		p.active[key] = append(a, w)
		p.lk.Unlock()
		return nil
	}

	p.active[key] = []*workItem{}
	p.lk.Unlock()

	select {
	case p.feeder <- w:
		return nil
	case <-ctx.Done():
		p.lk.Lock()
		// work queued behind us in the meantime is dropped with the head item
		rem := p.active[key]
		delete(p.active, key)
		p.lk.Unlock()
		if len(rem) > 0 {
			p.itemsDropped.Add(float64(len(rem)))
			p.log.Warn("dropped queued work after cancelled submission", "key", key, "count", len(rem))
		}
		return ctx.Err()
	}
}

func (p *Parallel) run(w *workItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
			p.log.Error("task panic", "key", w.key, "err", r, "stack", string(debug.Stack()))
		}
	}()
	return w.task(context.TODO())
}

func (p *Parallel) worker() {
	for work := range p.feeder {
		for work != nil {
			if work.control == "stop" {
				p.out <- struct{}{}
				return
			}

			if err := p.run(work); err != nil {
				p.itemsFailed.Inc()
				p.log.Error("task failed", "key", work.key, "err", err)
			}
			p.itemsProcessed.Inc()

			p.lk.Lock()
			rem, ok := p.active[work.key]
			if !ok {
				p.log.Error("should always have an 'active' entry if a worker is processing a job")
			}

			if len(rem) == 0 {
				delete(p.active, work.key)
				work = nil
			} else {
				work = rem[0]
				p.active[work.key] = rem[1:]
			}
			p.lk.Unlock()
		}
	}
}

func CommandKey(command, user string) string {
	return "cmd/" + command + "/" + user
}

func MessageKey(channel, message string) string {
	return "msg/" + channel + "/" + message
}

func MemberKey(community, user string) string {
	return "member/" + community + "/" + user
}
