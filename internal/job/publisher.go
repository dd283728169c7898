package job

import "sync"

const defaultEventBuffer = 16

// Publisher fans task events out to subscribers. Intermediate events are
// dropped for subscribers whose buffer is full; terminal events are always
// delivered, after which every subscriber channel is closed.
type Publisher struct {
	mu     sync.Mutex
	buffer int
	topics map[string]*topic
}

type topic struct {
	subs  map[int]chan Event
	next  int
	last  *Event
	ended bool
}

func NewPublisher(buffer int) *Publisher {
	if buffer < 1 {
		buffer = defaultEventBuffer
	}
	return &Publisher{buffer: buffer, topics: make(map[string]*topic)}
}

// Open registers taskID so it can be published to and subscribed
func (p *Publisher) Open(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.topics[taskID]; !ok {
		p.topics[taskID] = &topic{subs: make(map[int]chan Event)}
	}
}

// Subscribe returns a channel of events for taskID and a function that
// stops the subscription. The most recent event is replayed first, so a
// subscriber that arrives after the task ended still sees its outcome.
// ok is false when taskID was never opened or has been removed.
func (p *Publisher) Subscribe(taskID string) (events <-chan Event, stop func(), ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.topics[taskID]
	if !ok {
		return nil, nil, false
	}
	ch := make(chan Event, p.buffer)
	if t.last != nil {
		ch <- *t.last
	}
	if t.ended {
		close(ch)
		return ch, func() {}, true
	}

	id := t.next
	t.next++
	t.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if sub, ok := t.subs[id]; ok {
				delete(t.subs, id)
				close(sub)
			}
		})
	}, true
}

// Publish delivers ev to every subscriber of ev.TaskID. Events for unknown
// tasks, and events published after a terminal event, are ignored.
func (p *Publisher) Publish(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.topics[ev.TaskID]
	if !ok || t.ended {
		return
	}
	t.last = &ev

	if !ev.Terminal() {
		for _, ch := range t.subs {
			select {
			case ch <- ev:
			default:
			}
		}
		return
	}

	t.ended = true
	for id, ch := range t.subs {
		select {
		case ch <- ev:
		default:
			// make room by dropping the oldest pending event
			select {
			case <-ch:
			default:
			}
			ch <- ev
		}
		close(ch)
		delete(t.subs, id)
	}
}

// Remove forgets a task, closing any remaining subscriptions
func (p *Publisher) Remove(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.topics[taskID]
	if !ok {
		return
	}
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
	delete(p.topics, taskID)
}
