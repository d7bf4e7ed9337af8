package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/pbaille/pulse/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "pulse-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func strPtr(s string) *string { return &s }

func TestSeededTags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, name := range seededTags {
		tag, err := s.TagByName(ctx, name)
		require.NoError(t, err, name)
		require.NotNil(t, tag.TagType)
		assert.Equal(t, domain.TagTypeDefault, *tag.TagType)
	}

	_, err := s.TagByName(ctx, "procrastinating")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReopenKeepsSeeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	s, err := New(path)
	require.NoError(t, err)
	idle, err := s.TagByName(context.Background(), domain.TagIdle)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = New(path)
	require.NoError(t, err)
	defer s.Close()
	again, err := s.TagByName(context.Background(), domain.TagIdle)
	require.NoError(t, err)
	assert.Equal(t, idle.ID, again.ID)
}

func TestGetOrCreateTagWithParent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	parent, err := s.GetOrCreateTag(ctx, "work", nil, nil)
	require.NoError(t, err)
	child, err := s.GetOrCreateTag(ctx, "coding", strPtr(domain.TagTypeDefault), &parent.ID)
	require.NoError(t, err)
	require.NotNil(t, child.ParentID)
	assert.Equal(t, parent.ID, *child.ParentID)

	same, err := s.GetOrCreateTag(ctx, "coding", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, child.ID, same.ID)

	tags, err := s.ListTags(ctx)
	require.NoError(t, err)
	assert.Len(t, tags, len(seededTags)+2)
}

func TestCreateAppDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	app := &domain.Application{ExternalID: "google.com", Name: "google.com", Platform: domain.PlatformMac, IsBrowser: true}
	require.NoError(t, s.CreateApp(ctx, app))
	assert.NotEmpty(t, app.ID)

	err := s.CreateApp(ctx, &domain.Application{ExternalID: "google.com", Name: "dup", Platform: domain.PlatformMac})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicate))

	found, err := s.AppByExternalID(ctx, "google.com")
	require.NoError(t, err)
	assert.Equal(t, app.ID, found.ID)
	assert.True(t, found.IsBrowser)

	_, err = s.AppByExternalID(ctx, "x.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetAppBlocked(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateApp(ctx, &domain.Application{ExternalID: "x.com", Name: "x.com", Platform: domain.PlatformMac}))
	require.NoError(t, s.SetAppBlocked(ctx, "x.com", true))

	app, err := s.AppByExternalID(ctx, "x.com")
	require.NoError(t, err)
	assert.True(t, app.IsBlocked)

	assert.ErrorIs(t, s.SetAppBlocked(ctx, "nope.com", true), ErrNotFound)
}

func TestDefaultTagsForApps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := &domain.Application{ExternalID: "Cursor", Name: "Cursor", Platform: domain.PlatformMac}
	b := &domain.Application{ExternalID: "x.com", Name: "x.com", Platform: domain.PlatformMac}
	require.NoError(t, s.CreateApp(ctx, a))
	require.NoError(t, s.CreateApp(ctx, b))

	creating, err := s.TagByName(ctx, domain.TagCreating)
	require.NoError(t, err)
	custom, err := s.GetOrCreateTag(ctx, "favourite", nil, nil)
	require.NoError(t, err)

	require.NoError(t, s.AttachAppTag(ctx, a.ID, creating.ID, 1.0))
	require.NoError(t, s.AttachAppTag(ctx, a.ID, creating.ID, 0.5))
	require.NoError(t, s.AttachAppTag(ctx, a.ID, custom.ID, 1.0))

	tags, err := s.DefaultTagsForApps(ctx, []string{a.ID, b.ID})
	require.NoError(t, err)
	require.Len(t, tags[a.ID], 1, "non-default tags are ignored")
	assert.Equal(t, domain.TagCreating, tags[a.ID][0].Name)
	assert.Empty(t, tags[b.ID])

	empty, err := s.DefaultTagsForApps(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestActivitiesBetween(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, ago := range []time.Duration{2 * time.Second, time.Second, 0} {
		_, err := s.SaveActivity(ctx, &domain.Activity{
			Kind:      domain.ActivityWindow,
			Platform:  domain.PlatformMac,
			Timestamp: now.Add(-ago),
		})
		require.NoError(t, err)
	}

	all, err := s.ActivitiesBetween(ctx, nil, now)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.True(t, all[0].Timestamp.Before(all[2].Timestamp))

	// strictly after the boundary, inclusive upper bound
	after := now.Add(-time.Second)
	got, err := s.ActivitiesBetween(ctx, &after, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Timestamp.Equal(now))

	got, err = s.ActivitiesBetween(ctx, &after, now.Add(-time.Millisecond))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestActivitiesAfterID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// recording order differs from timestamp order
	var ids []int64
	for _, ago := range []time.Duration{0, time.Hour, time.Second} {
		id, err := s.SaveActivity(ctx, &domain.Activity{
			Kind:      domain.ActivityMouse,
			Platform:  domain.PlatformLinux,
			Timestamp: now.Add(-ago),
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	all, err := s.ActivitiesAfterID(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, a := range all {
		assert.Equal(t, ids[i], a.ID)
	}

	got, err := s.ActivitiesAfterID(ctx, ids[0])
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Timestamp.Equal(now.Add(-time.Hour)))

	got, err = s.ActivitiesAfterID(ctx, ids[2])
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSaveAndGetActivity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	app := &domain.Application{ExternalID: "Cursor", Name: "Cursor", Platform: domain.PlatformMac}
	require.NoError(t, s.CreateApp(ctx, app))

	id, err := s.SaveActivity(ctx, &domain.Activity{
		Kind:        domain.ActivityWindow,
		AppID:       &app.ID,
		WindowTitle: strPtr("main.go - pulse"),
		Platform:    domain.PlatformMac,
	})
	require.NoError(t, err)

	a, err := s.GetActivity(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, a.WindowTitle)
	assert.Equal(t, "main.go - pulse", *a.WindowTitle)
	require.NotNil(t, a.AppID)
	assert.Equal(t, app.ID, *a.AppID)
	assert.Nil(t, a.URL)
	assert.False(t, a.Timestamp.IsZero())

	_, err = s.GetActivity(ctx, id+100)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLastWindowActivityBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := s.LastWindowActivityBefore(ctx, now)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.SaveActivity(ctx, &domain.Activity{Kind: domain.ActivityWindow, WindowTitle: strPtr("first"), Platform: domain.PlatformMac, Timestamp: now.Add(-time.Minute)})
	require.NoError(t, err)
	_, err = s.SaveActivity(ctx, &domain.Activity{Kind: domain.ActivityKeyboard, Platform: domain.PlatformMac, Timestamp: now.Add(-30 * time.Second)})
	require.NoError(t, err)
	_, err = s.SaveActivity(ctx, &domain.Activity{Kind: domain.ActivityWindow, WindowTitle: strPtr("later"), Platform: domain.PlatformMac, Timestamp: now.Add(time.Second)})
	require.NoError(t, err)

	a, err := s.LastWindowActivityBefore(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, "first", *a.WindowTitle)
}

func TestActivityStates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.LastActivityState(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	for _, m := range []int{0, 2, 4, 6, 8, 10, 12, 14} {
		_, err := s.SaveActivityState(ctx, &domain.ActivityState{
			State:          domain.StateInactive,
			LastActivityID: int64(m),
			StartTime:      base.Add(time.Duration(m) * time.Minute),
			EndTime:        base.Add(time.Duration(m+2) * time.Minute),
		})
		require.NoError(t, err)
	}

	// [10:02, 10:12) in minutes, start_time inclusive on both ends
	states, err := s.ActivityStatesStartingBetween(ctx, base.Add(2*time.Minute), base.Add(11*time.Minute))
	require.NoError(t, err)
	require.Len(t, states, 5)
	for i, st := range states {
		assert.True(t, st.StartTime.Equal(base.Add(time.Duration(2*(i+1))*time.Minute)))
	}

	last, err := s.LastActivityState(ctx)
	require.NoError(t, err)
	assert.True(t, last.EndTime.Equal(base.Add(16*time.Minute)))
	assert.Equal(t, int64(14), last.LastActivityID)

	got, err := s.GetActivityState(ctx, last.ID)
	require.NoError(t, err)
	assert.Equal(t, last, got)
}

func TestAddStateTagsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.SaveActivityState(ctx, &domain.ActivityState{State: domain.StateActive, StartTime: time.Now(), EndTime: time.Now()})
	require.NoError(t, err)
	idle, err := s.TagByName(ctx, domain.TagIdle)
	require.NoError(t, err)
	consuming, err := s.TagByName(ctx, domain.TagConsuming)
	require.NoError(t, err)

	links := []domain.StateTag{
		{ActivityStateID: id, TagID: consuming.ID, AppID: "a"},
		{ActivityStateID: id, TagID: consuming.ID, AppID: "b"},
		{ActivityStateID: id, TagID: idle.ID},
		{ActivityStateID: id, TagID: idle.ID},
	}
	n, err := s.AddStateTags(ctx, links)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	n, err = s.AddStateTags(ctx, links)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	rows, err := s.StateTags(ctx, id)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	tags, err := s.TagsForState(ctx, id)
	require.NoError(t, err)
	assert.Len(t, tags, 2)
}

func TestInTxRollback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx *Tx) error {
		if _, err := tx.SaveActivityState(ctx, &domain.ActivityState{State: domain.StateActive, StartTime: time.Now(), EndTime: time.Now()}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.LastActivityState(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.InTx(ctx, func(tx *Tx) error {
		_, err := tx.SaveActivityState(ctx, &domain.ActivityState{State: domain.StateActive, StartTime: time.Now(), EndTime: time.Now()})
		return err
	})
	require.NoError(t, err)
	_, err = s.LastActivityState(ctx)
	assert.NoError(t, err)
}

func TestBlockedActivities(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveBlockedActivity(ctx, &domain.BlockedActivity{ExternalAppID: "com.blocked.app1", CreatedAt: time.Now().Add(-time.Second)}))
	require.NoError(t, s.SaveBlockedActivity(ctx, &domain.BlockedActivity{ExternalAppID: "com.blocked.app2"}))

	got, err := s.ListBlockedActivities(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "com.blocked.app1", got[0].ExternalAppID)
	assert.Equal(t, "com.blocked.app2", got[1].ExternalAppID)
}
