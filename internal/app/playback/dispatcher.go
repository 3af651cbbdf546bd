package playback

import (
	"context"
	"sync"

	"github.com/zulubot/zulubox/internal/domain/track"
)

// completion is a device finish signal marshalled onto the controller loop.
type completion struct {
	gen   uint64      // Generation of the play call that finished
	track track.Track // Track handed to the device
	err   error       // Error reported by the device, if any
}

// dispatcher hands device finish signals to the controller loop.
// The device may call the bound callback from any goroutine, including
// synchronously from inside Device.Stop while the loop is running it.
type dispatcher struct {
	ctx   context.Context
	inbox chan completion
}

func newDispatcher(ctx context.Context, buffer int) *dispatcher {
	return &dispatcher{
		ctx:   ctx,
		inbox: make(chan completion, buffer),
	}
}

// bind returns the onFinish callback for one play call.
// Only the first invocation is delivered.
func (d *dispatcher) bind(gen uint64, t track.Track) func(error) {
	var once sync.Once
	return func(err error) {
		once.Do(func() {
			go d.post(completion{gen: gen, track: t, err: err})
		})
	}
}

func (d *dispatcher) post(c completion) {
	select {
	case d.inbox <- c:
	case <-d.ctx.Done():
		// Controller closed, nobody left to advance
	}
}
