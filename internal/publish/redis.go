// Package publish forwards samples to redis pub/sub and keeps a capped
// history list next to the channel.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"psu-logger/internal/model"
)

const (
	DefaultChannel = "psu:samples"
	DefaultListKey = "psu:samples:history"
	DefaultListLen = 1000
	DefaultQueue   = 64
)

type Config struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
	ListKey  string `yaml:"list_key"`
	ListLen  int64  `yaml:"list_len"`
	Queue    int    `yaml:"queue"`
}

func (c *Config) applyDefaults() {
	if c.Channel == "" {
		c.Channel = DefaultChannel
	}
	if c.ListKey == "" {
		c.ListKey = DefaultListKey
	}
	if c.ListLen <= 0 {
		c.ListLen = DefaultListLen
	}
	if c.Queue <= 0 {
		c.Queue = DefaultQueue
	}
}

// Client is the subset of *redis.Client used by the publisher.
type Client interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	Close() error
}

// Recorder receives publish instrumentation. metrics.Metrics implements it.
type Recorder interface {
	Published()
	PublishFailed()
	PublishDropped()
}

type nopRecorder struct{}

func (nopRecorder) Published()      {}
func (nopRecorder) PublishFailed()  {}
func (nopRecorder) PublishDropped() {}

// Message is the JSON form of a published sample. Missing readings are null.
type Message struct {
	Port      string    `json:"port,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Voltage   *string   `json:"voltage"`
	Current   *string   `json:"current"`
	Power     *string   `json:"power"`
}

func NewMessage(port string, s model.Sample) Message {
	return Message{
		Port:      port,
		Timestamp: s.Timestamp,
		Voltage:   s.Voltage.Ptr(),
		Current:   s.Current.Ptr(),
		Power:     s.Power.Ptr(),
	}
}

// Publisher is a sampler observer. Samples are queued and sent by one
// worker goroutine, so a slow redis never stalls sampling; when the queue is
// full the sample is dropped.
type Publisher struct {
	c    Client
	cfg  Config
	port func() string
	log  logrus.FieldLogger
	rec  Recorder

	mu     sync.Mutex
	q      chan model.Sample
	closed bool
	done   chan struct{}
}

type Option func(*Publisher)

func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.log = l
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(p *Publisher) {
		if r != nil {
			p.rec = r
		}
	}
}

// WithPort tags every message with the port port() reports when the message
// is built, so a reconnect to another port shows up in later messages.
func WithPort(port func() string) Option {
	return func(p *Publisher) { p.port = port }
}

// Dial connects to redis and checks the connection with PING.
func Dial(ctx context.Context, cfg Config, opts ...Option) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}
	return New(client, cfg, opts...), nil
}

// New starts a publisher on an existing client. Close closes the client.
func New(c Client, cfg Config, opts ...Option) *Publisher {
	cfg.applyDefaults()
	p := &Publisher{
		c:    c,
		cfg:  cfg,
		log:  logrus.StandardLogger(),
		rec:  nopRecorder{},
		q:    make(chan model.Sample, cfg.Queue),
		done: make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	go p.worker()
	return p
}

func (p *Publisher) ObserveSample(s model.Sample) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.q <- s:
	default:
		p.rec.PublishDropped()
	}
}

// Publish sends one sample to the channel and the history list.
func (p *Publisher) Publish(ctx context.Context, s model.Sample) error {
	port := ""
	if p.port != nil {
		port = p.port()
	}
	b, err := json.Marshal(NewMessage(port, s))
	if err != nil {
		return fmt.Errorf("encode sample: %w", err)
	}
	if err := p.c.Publish(ctx, p.cfg.Channel, b).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if err := p.c.LPush(ctx, p.cfg.ListKey, b).Err(); err != nil {
		p.log.WithFields(logrus.Fields{"op": "lpush", "error": err}).Warn("history not saved")
		return nil
	}
	if err := p.c.LTrim(ctx, p.cfg.ListKey, 0, p.cfg.ListLen-1).Err(); err != nil {
		p.log.WithFields(logrus.Fields{"op": "ltrim", "error": err}).Warn("history not trimmed")
	}
	return nil
}

func (p *Publisher) worker() {
	defer close(p.done)
	for s := range p.q {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := p.Publish(ctx, s)
		cancel()
		if err != nil {
			p.rec.PublishFailed()
			p.log.WithFields(logrus.Fields{"op": "publish", "error": err}).Error("sample not published")
			continue
		}
		p.rec.Published()
	}
}

// Close drains the queue and closes the client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.q)
	p.mu.Unlock()
	<-p.done
	return p.c.Close()
}
