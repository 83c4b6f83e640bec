// Package bus abstracts the federation transport: a publish/subscribe
// channel that carries server events between nodes of one deployment.
package bus

import (
	"context"
	"encoding/json"
	"sync"
)

// Message is the envelope every federated event travels in. MessageID
// is globally unique; receivers deduplicate on it. ServerID identifies
// the publishing node so receivers can drop their own echo.
type Message struct {
	ServerID  string          `json:"serverId"`
	MessageID string          `json:"messageId"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Bus is the pub/sub transport between server nodes. Implementations
// must tolerate a nil receiver (single-node operation, all methods
// no-op). Subscribe handlers may be invoked from arbitrary goroutines;
// subscribers hand the message off to their own critical section.
type Bus interface {
	Publish(ctx context.Context, m Message) error
	Subscribe(ctx context.Context, wg *sync.WaitGroup, handler func(Message)) (unsubscribe func())
	Ping(ctx context.Context) error
	Close() error
}
