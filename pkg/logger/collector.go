package logger

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Publisher ships a digest to a topic. Satisfied by *kafka.Producer.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

type CollectionConfig struct {
	TimeInterval   time.Duration // flush interval
	CountThreshold int           // distinct entries that force an early flush
	Topic          string
	Publisher      Publisher
	Source         string // stamped on every digest
	IncludeWarn    bool
	// VolatileFields vary per event (reading values, timestamps, ids) and
	// are left out of the grouping key so repeats collapse into one entry.
	VolatileFields []string
}

// AggregatedLogEntry is one distinct log line and how often it fired.
type AggregatedLogEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// LogDigest is the payload published per flush, entries sorted by count.
type LogDigest struct {
	Source      string               `json:"source"`
	WindowStart time.Time            `json:"window_start"`
	WindowEnd   time.Time            `json:"window_end"`
	Total       int                  `json:"total"`
	Entries     []AggregatedLogEntry `json:"entries"`
}

// LogCollector groups repeated warn/error lines and publishes them as digests.
type LogCollector struct {
	cfg      CollectionConfig
	volatile map[string]struct{}

	mu          sync.Mutex
	entries     map[uint64]*AggregatedLogEntry
	windowStart time.Time

	now     func() time.Time
	stop    chan struct{}
	closeMu sync.Once
	loop    sync.WaitGroup
	sends   sync.WaitGroup
}

func NewLogCollector(cfg *CollectionConfig) *LogCollector {
	c := &LogCollector{
		cfg:      *cfg,
		volatile: make(map[string]struct{}, len(cfg.VolatileFields)),
		entries:  make(map[uint64]*AggregatedLogEntry),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	if c.cfg.TimeInterval <= 0 {
		c.cfg.TimeInterval = 30 * time.Second
	}
	if c.cfg.CountThreshold <= 0 {
		c.cfg.CountThreshold = 100
	}
	for _, f := range cfg.VolatileFields {
		c.volatile[f] = struct{}{}
	}
	c.windowStart = c.now()

	c.loop.Add(1)
	go c.run()
	return c
}

func (c *LogCollector) accepts(level zerolog.Level) bool {
	return level >= zerolog.ErrorLevel || (c.cfg.IncludeWarn && level == zerolog.WarnLevel)
}

func (c *LogCollector) AddLog(level, message string, fields map[string]interface{}, caller string) {
	now := c.now()
	key := c.groupKey(level, message, fields, caller)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.Count++
		e.LastSeen = now
		return
	}
	c.entries[key] = &AggregatedLogEntry{
		Level:     level,
		Message:   message,
		Fields:    fields,
		Caller:    caller,
		Count:     1,
		FirstSeen: now,
		LastSeen:  now,
	}
	if len(c.entries) >= c.cfg.CountThreshold {
		c.flushLocked(now)
	}
}

// groupKey hashes level, message, caller and the non-volatile fields in key order.
func (c *LogCollector) groupKey(level, message string, fields map[string]interface{}, caller string) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s\x00%s\x00%s", level, message, caller)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		if _, skip := c.volatile[k]; !skip {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "\x00%s=%v", k, fields[k])
	}
	return h.Sum64()
}

func (c *LogCollector) run() {
	defer c.loop.Done()
	ticker := time.NewTicker(c.cfg.TimeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.flushLocked(c.now())
			c.mu.Unlock()
		case <-c.stop:
			c.mu.Lock()
			c.flushLocked(c.now())
			c.mu.Unlock()
			return
		}
	}
}

func (c *LogCollector) flushLocked(now time.Time) {
	if len(c.entries) == 0 {
		c.windowStart = now
		return
	}

	d := LogDigest{
		Source:      c.cfg.Source,
		WindowStart: c.windowStart,
		WindowEnd:   now,
		Entries:     make([]AggregatedLogEntry, 0, len(c.entries)),
	}
	for _, e := range c.entries {
		d.Entries = append(d.Entries, *e)
		d.Total += e.Count
	}
	sort.Slice(d.Entries, func(i, j int) bool {
		if d.Entries[i].Count != d.Entries[j].Count {
			return d.Entries[i].Count > d.Entries[j].Count
		}
		return d.Entries[i].FirstSeen.Before(d.Entries[j].FirstSeen)
	})

	c.entries = make(map[uint64]*AggregatedLogEntry)
	c.windowStart = now

	if c.cfg.Publisher == nil {
		return
	}
	c.sends.Add(1)
	go func() {
		defer c.sends.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.cfg.Publisher.PublishMessage(ctx, c.cfg.Topic, d); err != nil {
			fmt.Fprintf(os.Stderr, "log collector: publish %d entries to %s: %v\n", len(d.Entries), c.cfg.Topic, err)
		}
	}()
}

// Close flushes the pending window and waits for in-flight publishes.
func (c *LogCollector) Close() {
	c.closeMu.Do(func() { close(c.stop) })
	c.loop.Wait()
	c.sends.Wait()
}
