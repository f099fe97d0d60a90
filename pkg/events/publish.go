package events

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"
)

// Publisher receives committed conversation events.
type Publisher interface {
	Publish(ctx context.Context, ev *Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, *Event) error { return nil }

// PublisherManager distributes events to a set of watermill publishers, each
// subscribed under a topic, and stamps a sequence number on every outgoing
// message in the order Publish handles them.
type PublisherManager struct {
	Publishers     map[string][]message.Publisher
	sequenceNumber uint64
	mutex          sync.Mutex
}

var _ Publisher = (*PublisherManager)(nil)

func NewPublisherManager() *PublisherManager {
	return &PublisherManager{
		Publishers: make(map[string][]message.Publisher),
	}
}

func (s *PublisherManager) SubscribePublisher(topic string, sub message.Publisher) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.Publishers[topic] = append(s.Publishers[topic], sub)
}

// Publish serializes ev to JSON and hands it to every subscribed publisher.
// Failures of individual publishers are logged; only serialization errors
// are returned.
func (s *PublisherManager) Publish(ctx context.Context, ev *Event) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	seq := strconv.FormatUint(s.sequenceNumber, 10)
	s.sequenceNumber++

	for topic, subs := range s.Publishers {
		for _, sub := range subs {
			msg := message.NewMessage(watermill.NewUUID(), b)
			msg.SetContext(ctx)
			msg.Metadata.Set("sequence_number", seq)
			msg.Metadata.Set("event_type", string(ev.Type_))
			msg.Metadata.Set("conversation_id", ev.ConversationID.String())
			if err := sub.Publish(topic, msg); err != nil {
				log.Warn().Err(err).Str("topic", topic).Msg("failed to publish")
			}
		}
	}

	return nil
}
