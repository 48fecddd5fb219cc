package metrics

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type recorded struct {
	kind  string
	name  string
	value float64
	tags  []string
}

type fakeStats struct {
	mu      sync.Mutex
	calls   []recorded
	failing bool
}

func (f *fakeStats) record(kind, name string, value float64, tags []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recorded{kind: kind, name: name, value: value, tags: tags})
	if f.failing {
		return errors.New("agent unreachable")
	}
	return nil
}

func (f *fakeStats) Gauge(name string, value float64, tags []string, _ float64) error {
	return f.record("gauge", name, value, tags)
}

func (f *fakeStats) Count(name string, value int64, tags []string, _ float64) error {
	return f.record("count", name, float64(value), tags)
}

func (f *fakeStats) Histogram(name string, value float64, tags []string, _ float64) error {
	return f.record("histogram", name, value, tags)
}

func (f *fakeStats) TimeInMilliseconds(name string, value float64, tags []string, _ float64) error {
	return f.record("time", name, value, tags)
}

func (f *fakeStats) Close() error { return nil }

func TestStatsd_Bumps(t *testing.T) {
	t.Parallel()

	fake := &fakeStats{}
	s := newStatsd(fake, "bidding", "env", "test")

	s.BumpSum("bid.count", 1, "outcome", "accepted")
	s.BumpHistogram("queue.depth", 3)
	s.BumpGauge("participants", 7, "auction", "a1")
	s.BumpTime("bid.time").End()

	require.Len(t, fake.calls, 4)
	require.Equal(t, recorded{kind: "count", name: "bidding.bid.count", value: 1, tags: []string{"env:test", "outcome:accepted"}}, fake.calls[0])
	require.Equal(t, "bidding.queue.depth", fake.calls[1].name)
	require.Equal(t, []string{"env:test"}, fake.calls[1].tags)
	require.Equal(t, []string{"env:test", "auction:a1"}, fake.calls[2].tags)
	require.Equal(t, "time", fake.calls[3].kind)
	require.GreaterOrEqual(t, fake.calls[3].value, 0.0)
}

func TestStatsd_FailuresAreSwallowed(t *testing.T) {
	t.Parallel()

	fake := &fakeStats{failing: true}
	s := newStatsd(fake, "bidding")

	require.NotPanics(t, func() {
		s.BumpSum("sink.err", 1)
		s.BumpTime("bid.time").End()
	})
}

func TestParseTag(t *testing.T) {
	t.Parallel()

	require.Nil(t, parseTag(nil))
	require.Nil(t, parseTag([]string{"lonely"}))
	require.Equal(t, []string{"a:1", "b:2"}, parseTag([]string{"a", "1", "b", "2", "dangling"}))
}

func TestNoOp(t *testing.T) {
	t.Parallel()

	var s Service = NoOp{}
	require.NotPanics(t, func() {
		s.BumpSum("k", 1)
		s.BumpHistogram("k", 1)
		s.BumpGauge("k", 1)
		s.BumpTime("k").End()
	})
}
