package clip

import (
	"context"
	"errors"
	"io"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"segclip/internal/audio"
	"segclip/internal/device"
	"segclip/internal/lifecycle"
	"segclip/internal/models"
	"segclip/internal/source"
	"segclip/internal/tempo"
)

const clipJSON = `{"sampleRate":44100,"channels":2,"segments":[{"src":"a.wav","duration":4},{"src":"b.wav","duration":6}]}`

// mockLogger is a no-op logger for testing purposes.
type mockLogger struct{}

func (m *mockLogger) Debugf(format string, v ...interface{}) {}
func (m *mockLogger) Infof(format string, v ...interface{})  {}
func (m *mockLogger) Warnf(format string, v ...interface{})  {}
func (m *mockLogger) Errorf(format string, v ...interface{}) {}

type memReader struct {
	files map[string][]byte
	gates map[string]chan struct{}
}

func (r *memReader) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if gate := r.gates[path]; gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	data, ok := r.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

// mockStore hands out leases on a 10s mono ramp sampled at 10Hz.
type mockStore struct {
	mu          sync.Mutex
	gate        chan struct{}
	fail        map[string]error
	calls       int
	acquired    int
	outstanding int
}

func (s *mockStore) Acquire(ctx context.Context, src string) (audio.Lease, error) {
	s.mu.Lock()
	s.calls++
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := s.fail[src]; err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquired++
	s.outstanding++
	ch := make([]float32, 100)
	for i := range ch {
		ch[i] = float32(i)
	}
	return &mockLease{store: s, buf: &models.Buffer{SampleRate: 10, Channels: [][]float32{ch}}}, nil
}

func (s *mockStore) stats() (calls, acquired, outstanding int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, s.acquired, s.outstanding
}

type mockLease struct {
	store *mockStore
	buf   *models.Buffer
	once  sync.Once
}

func (l *mockLease) Buffer() *models.Buffer { return l.buf }

func (l *mockLease) Release() {
	l.once.Do(func() {
		l.store.mu.Lock()
		l.store.outstanding--
		l.store.mu.Unlock()
	})
}

type fixture struct {
	clip   *Clip
	dev    *device.Virtual
	driver *device.Manual
	store  *mockStore
	reader *memReader
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		dev:    device.NewVirtual(44100),
		driver: device.NewManual(),
		store:  &mockStore{fail: map[string]error{}},
		reader: &memReader{files: map[string][]byte{
			"/clips/clip.json":      []byte(clipJSON),
			"/clips/clip.json.time": tempo.EncodeCues([]float64{0, 0.5, 1, 1.5}),
			"/clips/bad.json":       []byte(`{"sampleRate":`),
			"/clips/nocues.json":    []byte(clipJSON),
			"/clips/short.json":     []byte(`{"sampleRate":44100,"channels":2,"segments":[{"src":"c.wav","duration":3}]}`),
		},
			gates: map[string]chan struct{}{},
		},
	}
	c, err := New(Options{
		Device:        f.dev,
		Driver:        f.driver,
		Store:         f.store,
		Reader:        f.reader,
		Resolver:      source.Resolver{Dir: "/clips"},
		Logger:        &mockLogger{},
		PreloadMargin: 5,
		LoadWorkers:   2,
		LoadTimeout:   time.Second,
	})
	require.NoError(t, err)
	f.clip = c
	t.Cleanup(c.Destroy)
	return f
}

func (f *fixture) load(t *testing.T, src string) {
	t.Helper()
	require.NoError(t, f.clip.SetSource(context.Background(), src))
}

func (f *fixture) tick(at float64) {
	f.dev.SetTime(at)
	f.driver.Tick(audio.Window{Start: at, Length: 0.2})
}

func (f *fixture) itemState(t *testing.T, i int) string {
	items := f.clip.Items()
	if i >= len(items) {
		return ""
	}
	return items[i].State
}

func (f *fixture) playerStartingAt(t *testing.T, at float64) *device.Player {
	t.Helper()
	for _, p := range f.dev.Players() {
		if start, _, _, ok := p.Span(); ok && start == at {
			return p
		}
	}
	t.Fatalf("no player starts at %v", at)
	return nil
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestSetSourceLoadsIndexAndCues(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, models.SourceFormat{SampleRate: 44100, BitDepth: 32, Channels: 2}, f.clip.Format())
	assert.Nil(t, f.clip.CuePoints())

	f.load(t, "clip.json")

	assert.Equal(t, 10.0, f.clip.FullDuration())
	assert.False(t, f.clip.Loading())
	segs := f.clip.Segments()
	require.Len(t, segs, 2)
	assert.Equal(t, models.Segment{Src: "/clips/a.wav", Start: 0, End: 4}, segs[0])
	assert.Equal(t, models.Segment{Src: "/clips/b.wav", Start: 4, End: 10}, segs[1])

	assert.Eventually(t, func() bool { return f.clip.CuePoints() != nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []float64{0, 0.5, 1, 1.5}, f.clip.CuePoints())
	assert.Equal(t, []models.WarpMarker{
		{Time: 0, Beat: 0, Tempo: 60},
		{Time: 1, Beat: 1, Tempo: 60},
	}, f.clip.WarpMarkers(0))
	assert.Equal(t, 2.0, f.clip.WarpMarkers(2)[0].Time)
}

func TestMetadataFailureKeepsIndex(t *testing.T) {
	f := newFixture(t)
	f.load(t, "clip.json")

	err := f.clip.SetSource(context.Background(), "bad.json")
	assert.ErrorContains(t, err, "failed to load clip metadata /clips/bad.json")
	assert.False(t, f.clip.Loading())
	assert.Equal(t, 10.0, f.clip.FullDuration())

	err = f.clip.SetSource(context.Background(), "missing.json")
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Len(t, f.clip.Segments(), 2)
}

func TestCueFailureIsNonFatal(t *testing.T) {
	f := newFixture(t)
	f.load(t, "nocues.json")

	time.Sleep(20 * time.Millisecond)
	assert.Nil(t, f.clip.CuePoints())
	assert.Empty(t, f.clip.WarpMarkers(0))
}

func TestDurationClamp(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, DurationInfo{}, f.clip.Duration())

	f.load(t, "clip.json")
	full := f.clip.FullDuration()
	for _, offset := range []float64{0, 2.5, 10} {
		for _, requested := range []float64{0, 1, 5, 20} {
			f.clip.SetStartOffset(offset)
			f.clip.SetDuration(requested)
			d := f.clip.Duration()
			assert.Equal(t, full-offset, d.Max)
			assert.GreaterOrEqual(t, d.Resolved, 0.0)
			assert.LessOrEqual(t, d.Resolved, d.Max)
			if requested == 0 || requested > d.Max {
				assert.Equal(t, d.Max, d.Resolved, "offset %v requested %v", offset, requested)
			} else {
				assert.Equal(t, requested, d.Resolved)
			}
		}
	}

	f.clip.SetStartOffset(12)
	assert.Equal(t, 0.0, f.clip.Duration().Resolved)
	f.clip.SetStartOffset(-1)
	assert.Equal(t, 0.0, f.clip.StartOffset())
}

func TestCueList(t *testing.T) {
	f := newFixture(t)
	assert.Nil(t, f.clip.CueList(0, Remaining))

	f.load(t, "clip.json")
	var sum float64
	for _, r := range f.clip.CueList(0, Remaining) {
		sum += r.Duration()
	}
	assert.InDelta(t, f.clip.Duration().Resolved, sum, 1e-9)

	f.clip.SetStartOffset(3)
	assert.Equal(t, []models.CueRange{
		{Src: "/clips/a.wav", From: 3, To: 4},
		{Src: "/clips/b.wav", From: 0, To: 3},
	}, f.clip.CueList(0, 4))

	assert.Nil(t, f.clip.CueList(0, 0))
	assert.Nil(t, f.clip.CueList(1, -1))
	assert.Nil(t, f.clip.CueList(20, 1))
}

func TestStartQueuesOneItemPerSegment(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, 0, f.clip.Start(0, 0, Remaining))

	f.load(t, "clip.json")
	require.Equal(t, 2, f.clip.Start(100, 0, Remaining))
	items := f.clip.Items()
	assert.Equal(t, 100.0, items[0].ScheduledAt)
	assert.Equal(t, "/clips/a.wav", items[0].Src)
	assert.Equal(t, 104.0, items[1].ScheduledAt)
	assert.Equal(t, 6.0, items[1].To)
	assert.Equal(t, "PENDING", items[1].State)
	assert.Equal(t, 0, f.clip.Start(100, 10, 5))
}

func TestTickLoadsWithinLeadTime(t *testing.T) {
	f := newFixture(t)
	f.load(t, "clip.json")
	f.clip.Start(10, 0, Remaining)

	f.tick(4)
	assert.Equal(t, "PENDING", f.itemState(t, 0))

	f.tick(5)
	assert.Eventually(t, func() bool { return f.itemState(t, 0) == "PLAYING" }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "PENDING", f.itemState(t, 1))
	assert.False(t, f.clip.Loading())

	players := f.dev.Players()
	require.Len(t, players, 1)
	assert.Equal(t, device.Event{Kind: device.EventStart, At: 10, Offset: 0, Duration: 4}, players[0].Events()[1])
}

func TestLateDeliveryIsCompensated(t *testing.T) {
	f := newFixture(t)
	f.store.gate = make(chan struct{})
	f.load(t, "clip.json")
	f.clip.Start(10, 0, 4)

	f.tick(5)
	assert.Eventually(t, func() bool { calls, _, _ := f.store.stats(); return calls == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, f.clip.Loading())
	assert.Equal(t, "LOADING", f.itemState(t, 0))

	f.dev.SetTime(12)
	close(f.store.gate)
	assert.Eventually(t, func() bool { return f.itemState(t, 0) == "PLAYING" }, time.Second, 5*time.Millisecond)
	assert.False(t, f.clip.Loading())

	players := f.dev.Players()
	require.Len(t, players, 1)
	assert.Equal(t, device.Event{Kind: device.EventStart, At: 12, Offset: 2, Duration: 2}, players[0].Events()[1])
}

func TestTickEvictsFinishedItems(t *testing.T) {
	f := newFixture(t)
	f.load(t, "clip.json")
	f.clip.Start(10, 0, 4)
	f.tick(5)
	assert.Eventually(t, func() bool { return f.itemState(t, 0) == "PLAYING" }, time.Second, 5*time.Millisecond)

	f.tick(14)
	assert.Len(t, f.clip.Items(), 1, "never evicted while inside its grace margin")

	f.tick(19)
	assert.Empty(t, f.clip.Items())
	_, acquired, outstanding := f.store.stats()
	assert.Equal(t, 1, acquired)
	assert.Equal(t, 0, outstanding)
	assert.False(t, f.dev.Players()[0].Connected())
}

func TestAcquireFailureIsEvictedLater(t *testing.T) {
	f := newFixture(t)
	f.store.fail["/clips/a.wav"] = errors.New("decode failed")
	f.load(t, "clip.json")
	f.clip.Start(10, 0, 4)

	f.tick(5)
	assert.Eventually(t, func() bool {
		items := f.clip.Items()
		return len(items) == 1 && items[0].Error != ""
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "LOADING", f.itemState(t, 0))
	assert.False(t, f.clip.Loading())

	f.tick(6)
	assert.Len(t, f.clip.Items(), 1)

	f.tick(19)
	assert.Empty(t, f.clip.Items())
	assert.Empty(t, f.dev.Players())
}

func TestStaleResultIsReleased(t *testing.T) {
	f := newFixture(t)
	f.store.gate = make(chan struct{})
	f.load(t, "clip.json")
	f.clip.Start(10, 0, 4)
	f.tick(5)
	assert.Eventually(t, func() bool { calls, _, _ := f.store.stats(); return calls == 1 }, time.Second, 5*time.Millisecond)

	f.clip.Stop(0)
	assert.Empty(t, f.clip.Items())
	close(f.store.gate)

	assert.Eventually(t, func() bool {
		_, acquired, outstanding := f.store.stats()
		return acquired == 1 && outstanding == 0
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, f.dev.Players())
}

func TestResultForPreviousSourceIsReleased(t *testing.T) {
	f := newFixture(t)
	f.store.gate = make(chan struct{})
	f.load(t, "clip.json")
	f.clip.Start(10, 0, 4)
	f.tick(5)
	assert.Eventually(t, func() bool { calls, _, _ := f.store.stats(); return calls == 1 }, time.Second, 5*time.Millisecond)

	f.load(t, "short.json")
	require.Equal(t, 1, f.clip.Start(10, 0, Remaining))
	close(f.store.gate)

	assert.Eventually(t, func() bool {
		_, acquired, outstanding := f.store.stats()
		return acquired == 1 && outstanding == 0
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, f.dev.Players())
	assert.Equal(t, "PENDING", f.itemState(t, 0))
	assert.Equal(t, "/clips/c.wav", f.clip.Items()[0].Src)
}

func TestSupersededSourceIsNotApplied(t *testing.T) {
	f := newFixture(t)
	metaGate, cueGate := make(chan struct{}), make(chan struct{})
	f.reader.gates["/clips/clip.json"] = metaGate
	f.reader.gates["/clips/clip.json.time"] = cueGate

	first := make(chan error, 1)
	go func() { first <- f.clip.SetSource(context.Background(), "clip.json") }()
	assert.Eventually(t, func() bool { return f.clip.Snapshot().Path == "/clips/clip.json" }, time.Second, 5*time.Millisecond)
	assert.True(t, f.clip.Loading())

	f.load(t, "short.json")
	close(metaGate)
	close(cueGate)
	assert.NoError(t, <-first)

	assert.Equal(t, "/clips/short.json", f.clip.Snapshot().Path)
	assert.Equal(t, 3.0, f.clip.FullDuration())
	require.Len(t, f.clip.Segments(), 1)
	assert.False(t, f.clip.Loading())
	assert.Never(t, func() bool { return f.clip.CuePoints() != nil }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestStopEvictsItemsStillAudible(t *testing.T) {
	f := newFixture(t)
	f.load(t, "clip.json")
	f.clip.Start(0, 0, Remaining)
	f.tick(0)
	assert.Eventually(t, func() bool { return f.itemState(t, 0) == "PLAYING" && f.itemState(t, 1) == "PLAYING" }, time.Second, 5*time.Millisecond)

	f.clip.Stop(5)
	items := f.clip.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "/clips/a.wav", items[0].Src)

	second := f.playerStartingAt(t, 4)
	var stops []float64
	for _, e := range second.Events() {
		if e.Kind == device.EventStop {
			stops = append(stops, e.At)
		}
	}
	assert.Equal(t, []float64{5}, stops)
	assert.False(t, second.Connected())
	assert.True(t, f.playerStartingAt(t, 0).Connected())
}

func TestDestroy(t *testing.T) {
	f := newFixture(t)
	f.load(t, "clip.json")
	f.clip.Start(0, 0, Remaining)
	f.tick(0)
	assert.Eventually(t, func() bool { _, acquired, _ := f.store.stats(); return acquired == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, f.driver.Registered())

	f.clip.Destroy()
	f.clip.Destroy()

	assert.Equal(t, 0, f.driver.Registered())
	assert.Empty(t, f.clip.Items())
	assert.True(t, f.clip.Snapshot().Destroyed)
	_, _, outstanding := f.store.stats()
	assert.Equal(t, 0, outstanding)

	assert.Equal(t, 0, f.clip.Start(0, 0, Remaining))
	assert.ErrorIs(t, f.clip.SetSource(context.Background(), "clip.json"), ErrDestroyed)
	_, err := f.clip.Pull(0, 1).Next(context.Background())
	assert.ErrorIs(t, err, ErrDestroyed)
}

func TestWatch(t *testing.T) {
	f := newFixture(t)
	f.load(t, "nocues.json")

	var mu sync.Mutex
	var got []State
	release := f.clip.Watch(func(s State) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	})

	f.clip.SetDuration(3)
	f.clip.SetDuration(3)
	release()
	f.clip.SetDuration(4)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, 3.0, got[0].Duration.Resolved)
	assert.Equal(t, 10.0, got[0].FullDuration)
}

func TestWatchDeliversNewestStateLast(t *testing.T) {
	f := newFixture(t)

	entered, unblock := make(chan struct{}), make(chan struct{})
	var once sync.Once
	var mu sync.Mutex
	var offsets []float64
	release := f.clip.Watch(func(s State) {
		once.Do(func() {
			close(entered)
			<-unblock
		})
		mu.Lock()
		offsets = append(offsets, s.StartOffset)
		mu.Unlock()
	})
	defer release()

	done := make(chan struct{})
	go func() {
		f.clip.SetStartOffset(1)
		close(done)
	}()
	<-entered

	f.clip.SetStartOffset(2)
	f.clip.SetStartOffset(3)
	close(unblock)
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []float64{1, 3}, offsets)
	assert.Equal(t, 3.0, f.clip.StartOffset())
}

func TestPull(t *testing.T) {
	f := newFixture(t)
	f.load(t, "clip.json")

	p := f.clip.Pull(3, 4)
	require.Equal(t, 2, p.Len())

	first, err := p.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.CueRange{Src: "/clips/a.wav", From: 3, To: 4}, first.Range)
	assert.Equal(t, 1, first.Channels)
	buf := first.Buffer()
	require.Equal(t, 10, buf.Len())
	assert.Equal(t, float32(30), buf.Channels[0][0])
	assert.Equal(t, float32(39), buf.Channels[0][9])

	second, err := p.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 30, second.Frames())
	assert.Equal(t, float32(0), second.Buffer().Channels[0][0])

	_, err = p.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	_, err = p.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)

	_, _, outstanding := f.store.stats()
	assert.Equal(t, 0, outstanding)
}

func TestItemStatesExposeLifecycle(t *testing.T) {
	assert.Equal(t, "LOADING", lifecycle.Loading.String())
	assert.True(t, math.IsInf(Remaining, 1))
}
