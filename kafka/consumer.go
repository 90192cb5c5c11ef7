package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"maintlink/logging"
	"maintlink/plcman"
)

// CommandResponse is produced on <command_topic>.responses for every
// consumed command.
type CommandResponse struct {
	plcman.Command
	Accepted  bool      `json:"accepted"`
	Error     string    `json:"error,omitempty"`
	Skipped   bool      `json:"skipped,omitempty"` // request was older than command_max_age
	Timestamp time.Time `json:"timestamp"`
}

// messageReader is the part of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// commandConsumer reads commands one at a time and commits each after its
// response has been produced.
type commandConsumer struct {
	pub    *Publisher
	reader messageReader
	now    func() time.Time
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newCommandConsumer(pub *Publisher, reader messageReader) *commandConsumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &commandConsumer{
		pub:    pub,
		reader: reader,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *commandConsumer) start() {
	logging.DebugLog("kafka", "CONSUMER: starting on topic '%s' group '%s'",
		c.pub.config.CommandTopic, c.pub.config.ConsumerGroup)
	c.wg.Add(1)
	go c.loop()
}

func (c *commandConsumer) stop() {
	c.cancel()
	c.wg.Wait()
	c.reader.Close()
	logging.DebugLog("kafka", "CONSUMER: stopped")
}

func (c *commandConsumer) loop() {
	defer c.wg.Done()
	for {
		msg, err := c.reader.FetchMessage(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			logging.DebugLog("kafka", "CONSUMER: fetch failed: %v", err)
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		c.process(msg)
		if err := c.reader.CommitMessages(c.ctx, msg); err != nil && c.ctx.Err() == nil {
			logging.DebugLog("kafka", "CONSUMER: commit offset %d failed: %v", msg.Offset, err)
		}
	}
}

// process executes one command message and produces its response.
func (c *commandConsumer) process(msg kafka.Message) {
	logging.DebugLog("kafka", "CONSUMER: partition=%d offset=%d payload=%s", msg.Partition, msg.Offset, string(msg.Value))

	resp := CommandResponse{Timestamp: c.now().UTC()}
	if err := json.Unmarshal(msg.Value, &resp.Command); err != nil {
		resp.Error = fmt.Sprintf("invalid JSON: %v", err)
		c.respond(msg, resp)
		return
	}

	maxAge := c.pub.config.CommandMaxAge
	if maxAge > 0 && !msg.Time.IsZero() {
		if age := c.now().Sub(msg.Time); age > maxAge {
			resp.Skipped = true
			resp.Error = fmt.Sprintf("request expired (age: %v, max: %v)", age.Round(time.Millisecond), maxAge)
			c.respond(msg, resp)
			return
		}
	}

	if err := plcman.Execute(c.pub.cmd, resp.Command, c.pub.validate); err != nil {
		resp.Error = err.Error()
	} else {
		resp.Accepted = true
	}
	c.respond(msg, resp)
}

func (c *commandConsumer) respond(req kafka.Message, resp CommandResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	err = c.pub.produce(kafka.Message{
		Topic: c.pub.config.CommandTopic + ".responses",
		Key:   req.Key,
		Value: data,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.DebugLog("kafka", "CONSUMER: response for offset %d not delivered: %v", req.Offset, err)
	}
}
