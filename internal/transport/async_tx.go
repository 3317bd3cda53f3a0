package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// AsyncTx funnels all writes to one device through a single goroutine
// (fan-in). Enqueue is non-blocking: when the buffer is full, Send invokes
// the configured OnDrop hook and returns its error (usually an overflow
// sentinel), so producers never block behind a slow or wedged device.
//
// Life-cycle:
//
//	a := NewAsyncTx(ctx, buf, sendFn, hooks)
//	a.Send(Item{Payload: p})
//	a.Close()
//
// After Close returns no more items are processed; late Send calls return
// ErrAsyncTxClosed.
type AsyncTx struct {
	mu     sync.Mutex
	ch     chan Item
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	send   func([]byte) error
	hooks  Hooks
	closed atomic.Bool // set when Close is called; prevents enqueue after shutdown
}

// Item is one queued write. After, when non-nil, runs on the writer
// goroutine once the payload was written successfully, letting each enqueue
// site keep its own accounting.
type Item struct {
	Payload []byte
	After   func()
}

// Hooks customize AsyncTx behavior.
type Hooks struct {
	// OnError is called when send returns a non-nil error (payload not sent).
	OnError func(error)
	// OnDrop is called when the buffer is full; its returned error is
	// returned from Send. If nil, the overflow is silent.
	OnDrop func() error
}

// NewAsyncTx constructs an AsyncTx with a buffered channel of size buf.
func NewAsyncTx(parent context.Context, buf int, send func([]byte) error, hooks Hooks) *AsyncTx {
	ctx, cancel := context.WithCancel(parent)
	a := &AsyncTx{
		ch:     make(chan Item, buf),
		ctx:    ctx,
		cancel: cancel,
		send:   send,
		hooks:  hooks,
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *AsyncTx) loop() {
	defer a.wg.Done()
	for {
		select {
		case it, ok := <-a.ch:
			if !ok { // channel closed
				return
			}
			if err := a.send(it.Payload); err != nil {
				if a.hooks.OnError != nil {
					a.hooks.OnError(err)
				}
				continue
			}
			if it.After != nil {
				it.After()
			}
		case <-a.ctx.Done():
			return
		}
	}
}

// ErrAsyncTxClosed is returned by Send after Close.
var ErrAsyncTxClosed = errors.New("async tx closed")

// Send queues an item for asynchronous transmission or returns the drop
// error if the buffer is full.
func (a *AsyncTx) Send(it Item) error {
	// Fast-path check so steady-state sends avoid taking the lock when already shut down.
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	select {
	case a.ch <- it:
		return nil
	default:
		if a.hooks.OnDrop != nil {
			return a.hooks.OnDrop()
		}
		return nil
	}
}

// Close stops the worker and waits for all pending operations to finish.
func (a *AsyncTx) Close() {
	if a.closed.Swap(true) { // already closed
		return
	}
	// Cancel context to stop loop, then close channel under the send lock to avoid races.
	a.cancel()
	a.mu.Lock()
	close(a.ch)
	a.mu.Unlock()
	a.wg.Wait()
}
