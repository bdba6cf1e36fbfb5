package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	domain "github.com/forkcast/api/internal/domain"
	"github.com/forkcast/api/internal/services"
)

// EventDecisionCompleted is the eventType attribute of completion messages.
const EventDecisionCompleted = "decision.completed"

// DecisionCompletedMessage is the JSON body published when a decision completes.
type DecisionCompletedMessage struct {
	DecisionID   string    `json:"decisionId"`
	CollectionID string    `json:"collectionId"`
	GroupID      string    `json:"groupId,omitempty"`
	Type         string    `json:"type"`
	Method       string    `json:"method"`
	RestaurantID string    `json:"restaurantId"`
	SelectedAt   time.Time `json:"selectedAt"`
	Reasoning    string    `json:"reasoning,omitempty"`
	Participants []string  `json:"participants,omitempty"`
	VisitDate    time.Time `json:"visitDate"`
}

// PubSubDecisionNotifier publishes completed decisions to a Pub/Sub topic.
type PubSubDecisionNotifier struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.DecisionNotifier = (*PubSubDecisionNotifier)(nil)

// NewPubSubDecisionNotifier constructs a Pub/Sub backed decision notifier.
func NewPubSubDecisionNotifier(topic *pubsub.Topic) (*PubSubDecisionNotifier, error) {
	if topic == nil {
		return nil, errors.New("pubsub decision notifier: topic is required")
	}
	return &PubSubDecisionNotifier{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// NotifyDecisionCompleted publishes the result and waits for the server ack.
func (n *PubSubDecisionNotifier) NotifyDecisionCompleted(ctx context.Context, decision services.Decision, result services.DecisionResult) error {
	if n == nil || n.topic == nil {
		return errors.New("pubsub decision notifier: not initialised")
	}

	message := DecisionCompletedMessage{
		DecisionID:   decision.ID,
		CollectionID: decision.CollectionID,
		GroupID:      decision.GroupID,
		Type:         string(decision.Type),
		Method:       string(decision.Method),
		RestaurantID: result.RestaurantID,
		SelectedAt:   result.SelectedAt.UTC(),
		Reasoning:    result.Reasoning,
		VisitDate:    decision.VisitDate.UTC(),
	}
	if decision.Type == domain.DecisionTypeGroup {
		message.Participants = append([]string(nil), decision.Participants...)
	}

	data, err := n.marshal(message)
	if err != nil {
		return fmt.Errorf("marshal decision completed: %w", err)
	}

	attrs := map[string]string{"eventType": EventDecisionCompleted}
	setAttr(attrs, "decisionId", decision.ID)
	setAttr(attrs, "collectionId", decision.CollectionID)
	setAttr(attrs, "groupId", decision.GroupID)

	// completions of one collection are delivered in order when the topic enables ordering
	published := n.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: orderingKey(n.topic, decision.CollectionID),
	})
	if _, err := published.Get(ctx); err != nil {
		return fmt.Errorf("publish decision completed: %w", err)
	}
	return nil
}

// Ping reports whether the topic exists. Used by readiness checks.
func (n *PubSubDecisionNotifier) Ping(ctx context.Context) error {
	if n == nil || n.topic == nil {
		return errors.New("pubsub decision notifier: not initialised")
	}
	ok, err := n.topic.Exists(ctx)
	if err != nil {
		return fmt.Errorf("check topic: %w", err)
	}
	if !ok {
		return fmt.Errorf("topic %s not found", n.topic.ID())
	}
	return nil
}

func orderingKey(topic *pubsub.Topic, collectionID string) string {
	if !topic.EnableMessageOrdering {
		return ""
	}
	return strings.TrimSpace(collectionID)
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
