package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"argo-workflows-mcp/backend/internal/argo"
	"argo-workflows-mcp/backend/internal/argo/argotest"
	"argo-workflows-mcp/backend/internal/repository"
	"argo-workflows-mcp/backend/pkg/models"
)

type fakeSource struct {
	mu     sync.Mutex
	active *models.Connection
	err    error
}

func (f *fakeSource) GetActiveConnection(ctx context.Context) (*models.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.active == nil {
		return nil, repository.ErrNotFound
	}
	c := *f.active
	return &c, nil
}

func (f *fakeSource) set(c *models.Connection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = c
}

type recordingFactory struct {
	mu      sync.Mutex
	built   map[string][]*argotest.MockClient
	onBuild func(conn *models.Connection)
	fail    error
}

func newRecordingFactory() *recordingFactory {
	return &recordingFactory{built: map[string][]*argotest.MockClient{}}
}

func (r *recordingFactory) build(conn *models.Connection) (argo.Client, error) {
	if r.onBuild != nil {
		r.onBuild(conn)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return nil, r.fail
	}
	c := new(argotest.MockClient)
	r.built[conn.ID] = append(r.built[conn.ID], c)
	return c, nil
}

func (r *recordingFactory) clients(id string) []*argotest.MockClient {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*argotest.MockClient(nil), r.built[id]...)
}

func conn(id string, updated time.Time) *models.Connection {
	return &models.Connection{ID: id, Name: "conn-" + id, BaseURL: "http://" + id, UpdatedAt: updated}
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestManager_SwitchBuildsEachClientOnceAndClosesOldFirst(t *testing.T) {
	source := &fakeSource{active: conn("A", t0)}
	factory := newRecordingFactory()
	m := NewManager(source, factory.build, nil)

	for i := 0; i < 3; i++ {
		lease, err := m.Acquire(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "A", lease.Connection.ID)
		lease.Release()
	}

	source.set(conn("B", t0))
	factory.onBuild = func(c *models.Connection) {
		if c.ID == "B" {
			a := factory.clients("A")
			require.Len(t, a, 1)
			assert.True(t, a[0].Closed(), "A must be closed before B is built")
		}
	}

	lease, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "B", lease.Connection.ID)
	lease.Release()

	require.Len(t, factory.clients("A"), 1)
	require.Len(t, factory.clients("B"), 1)
	assert.Equal(t, 1, factory.clients("A")[0].CloseCount())
	assert.False(t, factory.clients("B")[0].Closed())
}

func TestManager_EditedConnectionIsRebuilt(t *testing.T) {
	source := &fakeSource{active: conn("A", t0)}
	factory := newRecordingFactory()
	m := NewManager(source, factory.build, nil)

	lease, err := m.Acquire(context.Background())
	require.NoError(t, err)
	lease.Release()

	source.set(conn("A", t0.Add(time.Second)))
	lease, err = m.Acquire(context.Background())
	require.NoError(t, err)
	lease.Release()

	built := factory.clients("A")
	require.Len(t, built, 2)
	assert.True(t, built[0].Closed())
	assert.False(t, built[1].Closed())
}

func TestManager_InFlightLeaseKeepsOldClientOpen(t *testing.T) {
	source := &fakeSource{active: conn("A", t0)}
	factory := newRecordingFactory()
	m := NewManager(source, factory.build, nil)

	inFlight, err := m.Acquire(context.Background())
	require.NoError(t, err)

	source.set(conn("B", t0))
	next, err := m.Acquire(context.Background())
	require.NoError(t, err)
	defer next.Release()

	a := factory.clients("A")[0]
	assert.False(t, a.Closed(), "client in use must stay open")

	inFlight.Release()
	assert.Equal(t, 1, a.CloseCount())

	inFlight.Release()
	assert.Equal(t, 1, a.CloseCount(), "double release must not double close")
}

func TestManager_NoActiveConnection(t *testing.T) {
	source := &fakeSource{active: conn("A", t0)}
	factory := newRecordingFactory()
	m := NewManager(source, factory.build, nil)

	lease, err := m.Acquire(context.Background())
	require.NoError(t, err)
	lease.Release()

	source.set(nil)
	_, err = m.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrNoActiveConnection)
	assert.True(t, factory.clients("A")[0].Closed())
}

func TestManager_FactoryFailure(t *testing.T) {
	source := &fakeSource{active: conn("A", t0)}
	factory := newRecordingFactory()
	factory.fail = errors.New("invalid base URL")
	m := NewManager(source, factory.build, nil)

	_, err := m.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrClientInit)
	assert.ErrorContains(t, err, "invalid base URL")

	factory.fail = nil
	lease, err := m.Acquire(context.Background())
	require.NoError(t, err)
	lease.Release()
}

func TestManager_SourceFailure(t *testing.T) {
	source := &fakeSource{err: errors.New("database is locked")}
	m := NewManager(source, newRecordingFactory().build, nil)

	_, err := m.Acquire(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoActiveConnection)
}

func TestManager_ConcurrentSwitching(t *testing.T) {
	source := &fakeSource{active: conn("A", t0)}
	factory := newRecordingFactory()
	m := NewManager(source, factory.build, nil)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if i == 0 && j%5 == 0 {
					id := "A"
					if j%10 == 0 {
						id = "B"
					}
					source.set(conn(id, t0.Add(time.Duration(j)*time.Second)))
				}
				lease, err := m.Acquire(context.Background())
				if !assert.NoError(t, err) {
					return
				}
				assert.False(t, lease.Client.(*argotest.MockClient).Closed(), "leased client must be open")
				lease.Release()
			}
		}(i)
	}
	wg.Wait()
	require.NoError(t, m.Close())

	for _, id := range []string{"A", "B"} {
		for _, c := range factory.clients(id) {
			assert.Equal(t, 1, c.CloseCount())
		}
	}
}

func TestManager_CloseWithOutstandingLease(t *testing.T) {
	source := &fakeSource{active: conn("A", t0)}
	factory := newRecordingFactory()
	m := NewManager(source, factory.build, nil)

	lease, err := m.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, m.Close())
	assert.False(t, factory.clients("A")[0].Closed())
	lease.Release()
	assert.True(t, factory.clients("A")[0].Closed())

	_, err = m.Acquire(context.Background())
	assert.Error(t, err)
}
