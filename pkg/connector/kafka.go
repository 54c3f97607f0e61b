// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

const kafkaStreamBuffer = 256

// KafkaProps is the parsed form of the connection properties understood by
// the Kafka connector. Property names follow the librdkafka convention.
type KafkaProps struct {
	Brokers        []string
	GroupID        string
	ClientID       string
	ResetOffset    string
	SessionTimeout time.Duration
	FetchMaxBytes  int32
	FetchMaxWait   time.Duration
	Ignored        []string
}

// ParseKafkaProps validates props. bootstrap.servers (or its alias
// metadata.broker.list) is required. Without group.id every partition of
// every topic is consumed directly.
func ParseKafkaProps(props map[string]string) (KafkaProps, error) {
	var p KafkaProps
	for key, value := range props {
		value = strings.TrimSpace(value)
		switch key {
		case "bootstrap.servers", "metadata.broker.list":
			for _, b := range strings.Split(value, ",") {
				if b = strings.TrimSpace(b); b != "" {
					p.Brokers = append(p.Brokers, b)
				}
			}
		case "group.id":
			p.GroupID = value
		case "client.id":
			p.ClientID = value
		case "auto.offset.reset":
			switch strings.ToLower(value) {
			case "earliest", "smallest", "beginning":
				p.ResetOffset = "earliest"
			case "latest", "largest", "end":
				p.ResetOffset = "latest"
			default:
				return KafkaProps{}, fmt.Errorf("kafka: invalid auto.offset.reset %q", value)
			}
		case "session.timeout.ms":
			d, err := parseMillis(key, value)
			if err != nil {
				return KafkaProps{}, err
			}
			p.SessionTimeout = d
		case "fetch.max.wait.ms":
			d, err := parseMillis(key, value)
			if err != nil {
				return KafkaProps{}, err
			}
			p.FetchMaxWait = d
		case "fetch.max.bytes":
			n, err := strconv.ParseInt(value, 10, 32)
			if err != nil || n <= 0 {
				return KafkaProps{}, fmt.Errorf("kafka: invalid %s %q", key, value)
			}
			p.FetchMaxBytes = int32(n)
		default:
			p.Ignored = append(p.Ignored, key)
		}
	}
	if len(p.Brokers) == 0 {
		return KafkaProps{}, errors.New("kafka: bootstrap.servers is required")
	}
	sort.Strings(p.Brokers)
	sort.Strings(p.Ignored)
	return p, nil
}

func parseMillis(key, value string) (time.Duration, error) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("kafka: invalid %s %q", key, value)
	}
	return time.Duration(n) * time.Millisecond, nil
}

func (p KafkaProps) options() []kgo.Opt {
	opts := []kgo.Opt{kgo.SeedBrokers(p.Brokers...)}
	if p.GroupID != "" {
		// only marked records are committed, periodically and when the
		// group is left on Close
		opts = append(opts, kgo.ConsumerGroup(p.GroupID), kgo.AutoCommitMarks())
	}
	if p.ClientID != "" {
		opts = append(opts, kgo.ClientID(p.ClientID))
	}
	switch p.ResetOffset {
	case "earliest":
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	case "latest":
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()))
	}
	if p.SessionTimeout > 0 {
		opts = append(opts, kgo.SessionTimeout(p.SessionTimeout))
	}
	if p.FetchMaxBytes > 0 {
		opts = append(opts, kgo.FetchMaxBytes(p.FetchMaxBytes))
	}
	if p.FetchMaxWait > 0 {
		opts = append(opts, kgo.FetchMaxWait(p.FetchMaxWait))
	}
	return opts
}

// Kafka consumes topics through a single franz-go client. One poll loop
// dispatches each record to stream partition%count of its topic so that
// the records of a partition always reach the same stream in order.
type Kafka struct {
	props  KafkaProps
	logger *slog.Logger

	mu     sync.Mutex
	client *kgo.Client
	cancel context.CancelFunc
	done   chan struct{}
	state  *kafkaState
}

type kafkaState struct {
	closed    chan struct{}
	failed    chan struct{}
	err       error
	closeOnce sync.Once
	failOnce  sync.Once
}

func (s *kafkaState) fail(err error) {
	s.failOnce.Do(func() {
		s.err = err
		close(s.failed)
	})
}

func (s *kafkaState) close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

type kafkaStream struct {
	topic   string
	records chan *kgo.Record
	state   *kafkaState
	client  *kgo.Client
}

// NewKafka is a Factory for the Kafka connector.
func NewKafka(props map[string]string, logger *slog.Logger) (Connector, error) {
	p, err := ParseKafkaProps(props)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "kafka")
	if len(p.Ignored) > 0 {
		logger.Warn("ignoring unsupported kafka properties", "keys", p.Ignored)
	}
	return &Kafka{props: p, logger: logger}, nil
}

func (k *Kafka) Streams(ctx context.Context, counts map[string]int) (map[string][]Stream, error) {
	if err := validateCounts(counts); err != nil {
		return nil, err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.client != nil {
		return nil, errors.New("kafka: connector already open")
	}

	topics := make([]string, 0, len(counts))
	for topic := range counts {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	opts := append(k.props.options(),
		kgo.ConsumeTopics(topics...),
		kgo.WithLogger(newKafkaLogger(k.logger)),
	)
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka: create client: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("kafka: ping %s: %w", strings.Join(k.props.Brokers, ","), err)
	}

	state := &kafkaState{closed: make(chan struct{}), failed: make(chan struct{})}
	byTopic := make(map[string][]*kafkaStream, len(counts))
	out := make(map[string][]Stream, len(counts))
	for _, topic := range topics {
		for i := 0; i < counts[topic]; i++ {
			s := &kafkaStream{topic: topic, records: make(chan *kgo.Record, kafkaStreamBuffer), state: state, client: client}
			byTopic[topic] = append(byTopic[topic], s)
			out[topic] = append(out[topic], s)
		}
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	k.client = client
	k.cancel = cancel
	k.done = make(chan struct{})
	k.state = state
	go k.poll(pollCtx, client, state, byTopic, k.done)

	k.logger.Info("kafka connector open", "brokers", k.props.Brokers, "topics", topics, "group", k.props.GroupID)
	return out, nil
}

func (k *Kafka) poll(ctx context.Context, client *kgo.Client, state *kafkaState, byTopic map[string][]*kafkaStream, done chan struct{}) {
	defer close(done)
	for {
		fetches := client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		var fatal error
		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			var kerrErr *kerr.Error
			if errors.As(err, &kerrErr) && !kerrErr.Retriable {
				if fatal == nil {
					fatal = fmt.Errorf("kafka: topic %s partition %d: %w", topic, partition, err)
				}
				return
			}
			k.logger.Warn("kafka fetch error", "topic", topic, "partition", partition, "error", err)
		})
		if fatal != nil {
			k.logger.Error("kafka connector failed", "error", fatal)
			state.fail(fatal)
			return
		}
		fetches.EachRecord(func(rec *kgo.Record) {
			streams := byTopic[rec.Topic]
			if len(streams) == 0 {
				return
			}
			s := streams[int(rec.Partition)%len(streams)]
			select {
			case s.records <- rec:
			case <-ctx.Done():
			}
		})
	}
}

func (k *Kafka) Shutdown() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.client == nil {
		return
	}
	k.state.close()
	k.cancel()
	<-k.done
	k.client.Close()
	k.client = nil
	k.cancel = nil
	k.done = nil
	k.state = nil
	k.logger.Info("kafka connector closed")
}

func (s *kafkaStream) Topic() string { return s.topic }

func (s *kafkaStream) Next(ctx context.Context) (Record, error) {
	select {
	case <-s.state.closed:
		return Record{}, ErrClosed
	default:
	}
	select {
	case rec := <-s.records:
		return Record{
			Topic:       rec.Topic,
			Partition:   rec.Partition,
			Offset:      rec.Offset,
			LeaderEpoch: rec.LeaderEpoch,
			Key:         rec.Key,
			Value:       rec.Value,
			Timestamp:   rec.Timestamp,
		}, nil
	case <-s.state.closed:
		return Record{}, ErrClosed
	case <-s.state.failed:
		return Record{}, s.state.err
	case <-ctx.Done():
		return Record{}, ctx.Err()
	}
}

// Mark is a no-op without group.id. Marks arriving after Shutdown are
// dropped, so their records are consumed again by the next group member.
func (s *kafkaStream) Mark(rec Record) {
	select {
	case <-s.state.closed:
		return
	default:
	}
	s.client.MarkCommitRecords(&kgo.Record{
		Topic:       rec.Topic,
		Partition:   rec.Partition,
		Offset:      rec.Offset,
		LeaderEpoch: rec.LeaderEpoch,
	})
}

type kafkaLogger struct {
	logger *slog.Logger
}

func newKafkaLogger(logger *slog.Logger) *kafkaLogger {
	return &kafkaLogger{logger: logger.With("subsystem", "client")}
}

// Level always reports info so the client never builds debug messages.
func (l *kafkaLogger) Level() kgo.LogLevel {
	return kgo.LogLevelInfo
}

func (l *kafkaLogger) Log(lev kgo.LogLevel, msg string, keyvals ...any) {
	switch lev {
	case kgo.LogLevelDebug:
		l.logger.Debug(msg, keyvals...)
	case kgo.LogLevelInfo:
		l.logger.Info(msg, keyvals...)
	case kgo.LogLevelWarn:
		l.logger.Warn(msg, keyvals...)
	case kgo.LogLevelError:
		l.logger.Error(msg, keyvals...)
	}
}
