package agent

import (
	"context"
	"sync"

	"github.com/sourcegraph/conc"
)

// Serve handles messages until msgs is closed or ctx is done, then waits for
// in-flight cycles. Messages of one channel are handled in arrival order;
// channels proceed concurrently.
func (a *Agent) Serve(ctx context.Context, msgs <-chan Message) error {
	var wg conc.WaitGroup
	defer wg.Wait()

	d := &dispatcher{lanes: make(map[string][]Message)}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if !d.enqueue(msg) {
				continue
			}
			wg.Go(func() { d.drain(msg.ChannelID, func(m Message) { a.handle(ctx, m) }) })
		}
	}
}

func (a *Agent) handle(ctx context.Context, msg Message) {
	if ctx.Err() != nil {
		return
	}
	if _, err := a.Handle(ctx, msg); err != nil {
		a.logger.Debug().Err(err).Str("channel_id", msg.ChannelID).Msg("cycle abandoned")
	}
}

// dispatcher keeps one FIFO lane per channel with a message in flight.
type dispatcher struct {
	mu    sync.Mutex
	lanes map[string][]Message
}

// enqueue adds msg to its lane and reports whether the lane was idle, in
// which case the caller must start draining it.
func (d *dispatcher) enqueue(msg Message) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	queue, busy := d.lanes[msg.ChannelID]
	d.lanes[msg.ChannelID] = append(queue, msg)
	return !busy
}

// drain handles the lane's messages in order until it is empty.
func (d *dispatcher) drain(channelID string, handle func(Message)) {
	for {
		d.mu.Lock()
		queue := d.lanes[channelID]
		if len(queue) == 0 {
			delete(d.lanes, channelID)
			d.mu.Unlock()
			return
		}
		msg := queue[0]
		d.lanes[channelID] = queue[1:]
		d.mu.Unlock()

		handle(msg)
	}
}
