package resolver

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pbaille/pulse/internal/domain"
	"github.com/pbaille/pulse/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "resolver.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var chrome = domain.WindowEvent{
	DisplayName: "Google Chrome",
	WindowTitle: "Home / X",
	URL:         "https://www.x.com/home",
	BundleID:    "com.google.Chrome",
	Platform:    domain.PlatformMac,
}

func TestResolveCreatesAppWithNeutralTag(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := New(s, nil)

	app, err := r.Resolve(ctx, chrome)
	require.NoError(t, err)
	assert.Equal(t, "x.com", app.ExternalID)
	assert.True(t, app.IsBrowser)

	tags, err := s.DefaultTagsForApps(ctx, []string{app.ID})
	require.NoError(t, err)
	require.Len(t, tags[app.ID], 1)
	assert.Equal(t, domain.TagNeutral, tags[app.ID][0].Name)
}

func TestResolveExistingApp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := New(s, nil)

	first, err := r.Resolve(ctx, chrome)
	require.NoError(t, err)

	other := chrome
	other.URL = "x.com/pbaille/status/1"
	other.WindowTitle = "a post"
	second, err := r.Resolve(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	apps, err := s.ListApps(ctx)
	require.NoError(t, err)
	assert.Len(t, apps, 1)
}

func TestResolveIdentityPriority(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := New(s, nil)

	native := domain.WindowEvent{DisplayName: "Cursor", BundleID: "com.todesktop.cursor", Platform: domain.PlatformMac}
	app, err := r.Resolve(ctx, native)
	require.NoError(t, err)
	assert.Equal(t, "com.todesktop.cursor", app.ExternalID)
	assert.Equal(t, "Cursor", app.Name)

	named := domain.WindowEvent{DisplayName: "Terminal", Platform: domain.PlatformLinux}
	app, err = r.Resolve(ctx, named)
	require.NoError(t, err)
	assert.Equal(t, "Terminal", app.ExternalID)

	_, err = r.Resolve(ctx, domain.WindowEvent{WindowTitle: "untitled"})
	assert.Error(t, err)
}

func TestConcurrentFirstSight(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := New(s, nil)

	const n = 8
	var (
		wg   sync.WaitGroup
		ids  = make([]string, n)
		errs = make([]error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			app, err := r.Resolve(ctx, chrome)
			errs[i] = err
			if err == nil {
				ids[i] = app.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	apps, err := s.ListApps(ctx)
	require.NoError(t, err)
	assert.Len(t, apps, 1)
}

// racingStore simulates losing a first-sight race: the lookup misses, the
// insert collides with a row created in between.
type racingStore struct {
	winner    *domain.Application
	lookups   int
	attached  []string
	createErr error
}

func (s *racingStore) AppByExternalID(_ context.Context, externalID string) (*domain.Application, error) {
	s.lookups++
	if s.lookups == 1 {
		return nil, fmt.Errorf("find app: %w", store.ErrNotFound)
	}
	return s.winner, nil
}

func (s *racingStore) CreateApp(context.Context, *domain.Application) error {
	return s.createErr
}

func (s *racingStore) TagByName(_ context.Context, name string) (*domain.Tag, error) {
	return &domain.Tag{ID: "tag-" + name, Name: name}, nil
}

func (s *racingStore) AttachAppTag(_ context.Context, appID, tagID string, _ float64) error {
	s.attached = append(s.attached, appID+"/"+tagID)
	return nil
}

func TestLostRaceReattachesDefaultTag(t *testing.T) {
	rs := &racingStore{
		winner:    &domain.Application{ID: "winner", ExternalID: "x.com"},
		createErr: fmt.Errorf("insert app x.com: %w", store.ErrDuplicate),
	}
	app, err := New(rs, nil).Resolve(context.Background(), chrome)
	require.NoError(t, err)
	assert.Equal(t, "winner", app.ID)
	assert.Equal(t, []string{"winner/tag-neutral"}, rs.attached)
}

func TestCreateErrorIsSurfaced(t *testing.T) {
	boom := errors.New("disk I/O error")
	rs := &racingStore{createErr: boom}
	_, err := New(rs, nil).Resolve(context.Background(), chrome)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, rs.attached)
}
