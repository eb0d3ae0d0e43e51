package dispatch

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/lightstreamer/ls-go-client/pkg/log"
)

var logger = log.For(log.Actions)

// Dispatcher runs posted tasks sequentially in posting order. The queue
// is unbounded so that Post never blocks.
type Dispatcher struct {
	mu     sync.Mutex
	queue  []func()
	closed bool

	wake    chan struct{}
	stopped chan struct{}
	running atomic.Bool
	wg      sync.WaitGroup
}

// New creates a dispatcher. Tasks posted before Start run once it is
// started.
func New() *Dispatcher {
	return &Dispatcher{
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

// Start launches the delivery goroutine.
func (d *Dispatcher) Start() {
	if d.running.Swap(true) {
		return // Already running
	}
	d.wg.Add(1)
	go d.loop()
}

// Stop delivers the tasks already queued, then ends the delivery
// goroutine. Later posts are dropped.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	close(d.stopped)
	if d.running.Load() {
		d.wg.Wait()
	}
}

// Post queues task. It returns false if the dispatcher is stopped.
func (d *Dispatcher) Post(task func()) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.queue = append(d.queue, task)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return true
}

// Flush blocks until every task posted before the call has run. It must
// not be called from a task.
func (d *Dispatcher) Flush() {
	done := make(chan struct{})
	if !d.Post(func() { close(done) }) {
		return
	}
	<-done
}

// Len returns the number of queued tasks.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for {
		d.drain()

		select {
		case <-d.wake:
		case <-d.stopped:
			d.drain()
			return
		}
	}
}

// drain runs queued tasks until the queue is empty.
func (d *Dispatcher) drain() {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		batch := d.queue
		d.queue = nil
		d.mu.Unlock()

		for _, task := range batch {
			run(task)
		}
	}
}

// run executes one task; a panicking listener must not stop delivery.
func run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("listener panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()
	task()
}

var defaultDispatcher = sync.OnceValue(func() *Dispatcher {
	d := New()
	d.Start()
	return d
})

// Default returns the process-wide dispatcher shared by every client and
// subscription that is not given one explicitly. It is never stopped.
func Default() *Dispatcher {
	return defaultDispatcher()
}
