package hub

import (
	"fmt"
	"sync"

	"github.com/asaskevich/EventBus"

	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/translation"
)

const (
	topicTranslation = "translation"
	topicError       = "error"
	topicState       = "state"
)

// Events fans hub events out to any number of listeners. Each subscription
// returns a function that removes it. Listeners run synchronously on the
// connection's read goroutine and must not subscribe, unsubscribe or call
// back into the client from inside the handler.
type Events struct {
	bus EventBus.Bus

	mu     sync.Mutex
	seq    int
	topics map[string][]string
}

// NewEvents creates an empty event hub
func NewEvents() *Events {
	return &Events{
		bus:    EventBus.New(),
		topics: make(map[string][]string),
	}
}

// OnTranslation subscribes to translation results pushed by the backend
func (e *Events) OnTranslation(h func(translation.Result)) func() {
	return e.subscribe(topicTranslation, h)
}

// OnError subscribes to backend and connection errors
func (e *Events) OnError(h func(error)) func() {
	return e.subscribe(topicError, h)
}

// OnStateChange subscribes to connection state transitions
func (e *Events) OnStateChange(h func(State)) func() {
	return e.subscribe(topicState, h)
}

// subscribe gives every listener a topic of its own, so removal never
// depends on comparing handler values.
func (e *Events) subscribe(kind string, fn interface{}) func() {
	e.mu.Lock()
	e.seq++
	topic := fmt.Sprintf("%s/%d", kind, e.seq)
	e.topics[kind] = append(e.topics[kind], topic)
	e.mu.Unlock()

	_ = e.bus.Subscribe(topic, fn)

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			list := e.topics[kind]
			for i, t := range list {
				if t == topic {
					e.topics[kind] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
			e.mu.Unlock()
			_ = e.bus.Unsubscribe(topic, fn)
		})
	}
}

func (e *Events) publish(kind string, arg interface{}) {
	e.mu.Lock()
	topics := append([]string(nil), e.topics[kind]...)
	e.mu.Unlock()

	for _, topic := range topics {
		e.bus.Publish(topic, arg)
	}
}
