package room

import (
	"fmt"
	"time"
)

// TopicStatus is the lifecycle state of a discussion topic.
type TopicStatus string

const (
	TopicPending   TopicStatus = "pending"
	TopicActive    TopicStatus = "active"
	TopicCompleted TopicStatus = "completed"
)

// DiscussionTopic is one entry of a room's ordered topic list. At most
// one topic is active per room at any time.
type DiscussionTopic struct {
	ID           string
	Title        string
	Status       TopicStatus
	IntroducedAt int64
	IntroducedBy string
	CompletedAt  int64
}

// AddTopic appends a pending topic to the room's list and returns its id.
func (r *Room) AddTopic(title, introducedBy string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addTopicLocked(title, introducedBy, TopicPending)
}

func (r *Room) addTopicLocked(title, introducedBy string, status TopicStatus) string {
	r.topicSeq++
	t := &DiscussionTopic{
		ID:           fmt.Sprintf("topic-%d", r.topicSeq),
		Title:        title,
		Status:       status,
		IntroducedAt: time.Now().UnixMilli(),
		IntroducedBy: introducedBy,
	}
	r.topics = append(r.topics, t)
	if status == TopicActive {
		r.activeTopicID = t.ID
	}
	return t.ID
}

// SetActiveTopic activates a topic, auto-completing any prior active one.
func (r *Room) SetActiveTopic(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	target := r.findTopicLocked(id)
	if target == nil {
		return fmt.Errorf("topic %s not found", id)
	}
	if prev := r.findTopicLocked(r.activeTopicID); prev != nil && prev.ID != id && prev.Status == TopicActive {
		prev.Status = TopicCompleted
		prev.CompletedAt = time.Now().UnixMilli()
	}
	target.Status = TopicActive
	target.CompletedAt = 0
	r.activeTopicID = id
	return nil
}

// CompleteTopic marks a topic completed. Completing the active topic
// leaves the room with none active.
func (r *Room) CompleteTopic(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.findTopicLocked(id)
	if t == nil {
		return fmt.Errorf("topic %s not found", id)
	}
	t.Status = TopicCompleted
	t.CompletedAt = time.Now().UnixMilli()
	if r.activeTopicID == id {
		r.activeTopicID = ""
	}
	return nil
}

// ActiveTopic returns the currently active topic, if any.
func (r *Room) ActiveTopic() (DiscussionTopic, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t := r.findTopicLocked(r.activeTopicID); t != nil && t.Status == TopicActive {
		return *t, true
	}
	return DiscussionTopic{}, false
}

// TopicSummary returns a snapshot of the room's topic list in
// introduction order.
func (r *Room) TopicSummary() []DiscussionTopic {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DiscussionTopic, 0, len(r.topics))
	for _, t := range r.topics {
		out = append(out, *t)
	}
	return out
}

func (r *Room) findTopicLocked(id string) *DiscussionTopic {
	if id == "" {
		return nil
	}
	for _, t := range r.topics {
		if t.ID == id {
			return t
		}
	}
	return nil
}
