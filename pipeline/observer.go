package pipeline

import (
	"go.viam.com/depthstream/stream"
)

// An Observer is told about every frame the pipeline publishes. Callbacks run on the goroutine
// calling Advance after the tick's processing is done; frames are valid until the stream's next
// tick recycles their storage.
type Observer interface {
	OnFrame(name string, frame *stream.Frame)
	// OnDepthRange is called when a depth stream's normalization window first appears or changes.
	OnDepthRange(name string, depthRange stream.DepthRange)
}

// ObserverFuncs adapts plain functions to an Observer. Nil funcs are skipped.
type ObserverFuncs struct {
	Frame      func(name string, frame *stream.Frame)
	DepthRange func(name string, depthRange stream.DepthRange)
}

// OnFrame calls Frame if set.
func (o ObserverFuncs) OnFrame(name string, frame *stream.Frame) {
	if o.Frame != nil {
		o.Frame(name, frame)
	}
}

// OnDepthRange calls DepthRange if set.
func (o ObserverFuncs) OnDepthRange(name string, depthRange stream.DepthRange) {
	if o.DepthRange != nil {
		o.DepthRange(name, depthRange)
	}
}

type registeredObserver struct {
	id  uint64
	obs Observer
}

// notification is one pending observer callback collected during a tick.
type notification struct {
	name       string
	frame      *stream.Frame
	depthRange *stream.DepthRange
}

func (n notification) deliver(obs Observer) {
	if n.frame != nil {
		obs.OnFrame(n.name, n.frame)
	}
	if n.depthRange != nil {
		obs.OnDepthRange(n.name, *n.depthRange)
	}
}
