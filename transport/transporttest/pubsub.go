package transporttest

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Publisher discards everything it is given.
type Publisher struct{}

func (Publisher) Publish(topic string, messages ...*message.Message) error { return nil }
func (Publisher) Close() error                                             { return nil }

// Subscriber returns a channel that never delivers.
type Subscriber struct{}

func (Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return make(chan *message.Message), nil
}
func (Subscriber) Close() error { return nil }
