/*
Package metrics wraps datadog-go statsd for the bidding engine.
Naming convention:
- Internal process time: *.time
- Error: *.err
- Counted outcomes: *.count
*/
package metrics

import (
	"fmt"
	"time"

	"github.com/DataDog/datadog-go/statsd"

	"auction-engine/utils"
)

// Ender stops a timer started by BumpTime
type Ender interface {
	End()
}

// Service provides interface for metrics
type Service interface {
	BumpSum(key string, val float64, tags ...string)
	BumpHistogram(key string, val float64, tags ...string)
	BumpGauge(key string, val float64, tags ...string)

	BumpTime(key string, tags ...string) Ender
}

type statsCli interface {
	Gauge(name string, value float64, tags []string, rate float64) error
	Count(name string, value int64, tags []string, rate float64) error
	Histogram(name string, value float64, tags []string, rate float64) error
	TimeInMilliseconds(name string, value float64, tags []string, rate float64) error
	Close() error
}

// Statsd sends metrics to a dogstatsd agent, prefixed with the package name
type Statsd struct {
	pkgName string
	client  statsCli
	tags    []string
}

// NewStatsd connects to the agent at addr. Sends are UDP and never block callers.
func NewStatsd(addr, pkgName string, tags ...string) (*Statsd, error) {
	client, err := statsd.New(addr)
	if err != nil {
		return nil, fmt.Errorf("metrics: connect statsd %s: %w", addr, err)
	}
	return newStatsd(client, pkgName, tags...), nil
}

func newStatsd(client statsCli, pkgName string, tags ...string) *Statsd {
	return &Statsd{pkgName: pkgName, client: client, tags: parseTag(tags)}
}

// BumpSum bumps the sum for the given key.
func (s *Statsd) BumpSum(key string, val float64, tags ...string) {
	if err := s.client.Count(s.name(key), int64(val), s.withTags(tags), 1); err != nil {
		s.bumpFail("BumpSum", key, err)
	}
}

// BumpHistogram bumps the histogram for the given key.
func (s *Statsd) BumpHistogram(key string, val float64, tags ...string) {
	if err := s.client.Histogram(s.name(key), val, s.withTags(tags), 1); err != nil {
		s.bumpFail("BumpHistogram", key, err)
	}
}

// BumpGauge records the current value for the given key.
func (s *Statsd) BumpGauge(key string, val float64, tags ...string) {
	if err := s.client.Gauge(s.name(key), val, s.withTags(tags), 1); err != nil {
		s.bumpFail("BumpGauge", key, err)
	}
}

// BumpTime starts a timer; call End() to record it:
//
//	defer s.BumpTime("bid.time").End()
func (s *Statsd) BumpTime(key string, tags ...string) Ender {
	return &timeTracker{start: time.Now(), stop: func(d time.Duration) {
		ms := float64(d) / float64(time.Millisecond)
		if err := s.client.TimeInMilliseconds(s.name(key), ms, s.withTags(tags), 1); err != nil {
			s.bumpFail("BumpTime", key, err)
		}
	}}
}

// Close flushes buffered metrics
func (s *Statsd) Close() error {
	return s.client.Close()
}

func (s *Statsd) name(key string) string {
	return s.pkgName + "." + key
}

func (s *Statsd) withTags(tags []string) []string {
	return append(append([]string(nil), s.tags...), parseTag(tags)...)
}

func (s *Statsd) bumpFail(fn, key string, err error) {
	utils.Warn("metrics: bump failed", map[string]any{"func": fn, "key": key, "error": err.Error()})
}

// parseTag turns key/value pairs into statsd "key:value" tags. A trailing
// key without value is dropped.
func parseTag(tags []string) []string {
	if len(tags) < 2 {
		return nil
	}
	arr := make([]string, 0, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		arr = append(arr, tags[i]+":"+tags[i+1])
	}
	return arr
}

type timeTracker struct {
	start time.Time
	stop  func(time.Duration)
}

func (t *timeTracker) End() {
	t.stop(time.Since(t.start))
}

// NoOp discards every metric
type NoOp struct{}

func (NoOp) BumpSum(string, float64, ...string)       {}
func (NoOp) BumpHistogram(string, float64, ...string) {}
func (NoOp) BumpGauge(string, float64, ...string)     {}
func (NoOp) BumpTime(string, ...string) Ender         { return noopEnder{} }

type noopEnder struct{}

func (noopEnder) End() {}
