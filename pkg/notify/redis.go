package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel qualified leads are announced on.
const DefaultChannel = "leads.qualified"

// Event is the JSON message published for dashboards and call-center tools.
type Event struct {
	LeadID     string    `json:"leadId"`
	FunnelType string    `json:"funnelType"`
	LeadType   string    `json:"leadType"`
	Name       string    `json:"name"`
	Phone      string    `json:"phone"`
	Email      string    `json:"email"`
	ObjectURI  string    `json:"objectUri,omitempty"`
	At         time.Time `json:"at"`
}

// RedisPublisher publishes qualified leads on a Redis channel.
type RedisPublisher struct {
	client  redis.Cmdable
	channel string
}

func NewRedisPublisher(client redis.Cmdable, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Notify(ctx context.Context, n Notification) error {
	r := n.Record
	ev := Event{
		LeadID:     r.LeadID,
		FunnelType: r.FunnelType,
		LeadType:   r.LeadType,
		ObjectURI:  n.ObjectURI,
		At:         r.SubmittedAt.UTC(),
	}
	if r.Contact != nil {
		ev.Name, ev.Phone, ev.Email = r.Contact.FullName(), r.Contact.Phone, r.Contact.Email
	}
	msg, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, msg).Err(); err != nil {
		return fmt.Errorf("redis publish for %s: %w", r.LeadID, err)
	}
	return nil
}
