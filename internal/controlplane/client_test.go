package controlplane_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/screensync/internal/controlplane"
	"github.com/edvin/screensync/internal/controlplane/cptest"
)

func mediaItem(id int64) controlplane.PlaylistItem {
	return controlplane.PlaylistItem{Type: "media", Item: controlplane.Ref{ID: id}, Duration: 10}
}

func TestClient_GetPlaylist_BothEncodingsMatch(t *testing.T) {
	fake := cptest.NewServer(t)
	fake.AddPlaylist(1, mediaItem(11), mediaItem(12))
	fake.AddPlaylist(2, mediaItem(11), mediaItem(12))
	fake.ServePlaylistAs(2, controlplane.EncodingBareID)
	client := fake.Client()
	ctx := context.Background()

	a, err := client.GetPlaylist(ctx, 1)
	require.NoError(t, err)
	b, err := client.GetPlaylist(ctx, 2)
	require.NoError(t, err)

	require.Len(t, a.Items, 2)
	require.Len(t, b.Items, 2)
	for i := range a.Items {
		assert.Equal(t, a.Items[i].MediaID(), b.Items[i].MediaID())
	}
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	fake := cptest.NewServer(t)
	fake.AddPlaylist(1, mediaItem(11))
	fake.FailGets("/playlists/1", 2)

	p, err := fake.Client().GetPlaylist(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, p.Items, 1)
	assert.Equal(t, 3, fake.CountRequests("GET /playlists/1"))
}

func TestClient_GivesUpAfterMaxRetries(t *testing.T) {
	fake := cptest.NewServer(t)
	fake.AddPlaylist(1, mediaItem(11))
	fake.FailGets("/playlists/1", 10)

	_, err := fake.Client().GetPlaylist(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, controlplane.IsRetryable(err))
	assert.Equal(t, 3, fake.CountRequests("GET /playlists/1"))
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	fake := cptest.NewServer(t)

	_, err := fake.Client().GetPlaylist(context.Background(), 404)
	require.Error(t, err)
	assert.True(t, controlplane.IsNotFound(err))
	assert.True(t, controlplane.IsClientError(err))
	assert.False(t, controlplane.IsRetryable(err))
	assert.Equal(t, 1, fake.CountRequests("GET /playlists/404"))

	var apiErr *controlplane.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "playlist not found")
}

func TestClient_ScreenContentRoundTrip(t *testing.T) {
	fake := cptest.NewServer(t)
	fake.AddScreen(5, "layout", 99)
	client := fake.Client()
	ctx := context.Background()

	require.NoError(t, client.SetScreenContent(ctx, 5, "playlist", 42))

	s, err := client.GetScreen(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "playlist", s.Source().Type)
	assert.Equal(t, int64(42), s.Source().ID)

	require.NoError(t, client.PushScreen(ctx, 5))
	assert.Equal(t, 1, fake.Pushes(5))
}

func TestClient_UpdatePlaylistItems_SendsRequestedEncoding(t *testing.T) {
	fake := cptest.NewServer(t)
	fake.AddPlaylist(1)
	client := fake.Client()
	ctx := context.Background()

	require.NoError(t, client.UpdatePlaylistItems(ctx, 1, []controlplane.PlaylistItem{mediaItem(3)}, controlplane.EncodingBareID))
	require.NoError(t, client.UpdatePlaylistItems(ctx, 1, []controlplane.PlaylistItem{mediaItem(3), mediaItem(4)}, controlplane.EncodingObject))

	assert.Equal(t, []controlplane.ItemEncoding{controlplane.EncodingBareID, controlplane.EncodingObject}, fake.WriteEncodings())
	assert.Len(t, fake.PlaylistItems(1), 2)
}

func TestClient_CreatePlaylist(t *testing.T) {
	fake := cptest.NewServer(t)

	p, err := fake.Client().CreatePlaylist(context.Background(), "Screen lobby", []controlplane.PlaylistItem{mediaItem(1)}, controlplane.EncodingObject)
	require.NoError(t, err)
	assert.NotZero(t, p.ID)
	assert.Len(t, fake.PlaylistItems(p.ID), 1)
}

func TestClient_ListWorkspaceMedia_FollowsPagination(t *testing.T) {
	fake := cptest.NewServer(t)
	fake.SetMediaPageSize(2)
	for i := int64(1); i <= 5; i++ {
		fake.AddMedia(controlplane.Media{ID: i, Workspace: controlplane.Ref{ID: 7}})
	}
	fake.AddMedia(controlplane.Media{ID: 100, Workspace: controlplane.Ref{ID: 8}})

	media, err := fake.Client().ListWorkspaceMedia(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, media, 5)
	assert.Equal(t, 3, fake.CountRequests("GET /media"))
}

func TestClient_BoundsConcurrentRequests(t *testing.T) {
	var current, peak int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&current, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":1,"items":[]}`))
	}))
	defer srv.Close()

	client := controlplane.NewClient(controlplane.Options{
		BaseURL:        srv.URL,
		Token:          "t",
		MaxConcurrency: 2,
		Timeout:        time.Second,
		Logger:         zerolog.Nop(),
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.GetPlaylist(context.Background(), 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Equal(t, int32(2), atomic.LoadInt32(&peak))
}

func TestClient_TimeoutIsRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			time.Sleep(200 * time.Millisecond)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":3,"name":"m","status":"ready","file_size":10}`))
	}))
	defer srv.Close()

	client := controlplane.NewClient(controlplane.Options{
		BaseURL:      srv.URL,
		Token:        "t",
		Timeout:      50 * time.Millisecond,
		MaxRetries:   1,
		RetryBackoff: time.Millisecond,
		Logger:       zerolog.Nop(),
	})

	m, err := client.GetMedia(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "ready", m.Status)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_MalformedResponseIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	client := controlplane.NewClient(controlplane.Options{
		BaseURL:      srv.URL,
		Token:        "t",
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
		Logger:       zerolog.Nop(),
	})

	_, err := client.GetMedia(context.Background(), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, controlplane.ErrMalformedResponse)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_CancelDuringBackoffStops(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := controlplane.NewClient(controlplane.Options{
		BaseURL:      srv.URL,
		Token:        "t",
		MaxRetries:   5,
		RetryBackoff: 2 * time.Second,
		Logger:       zerolog.Nop(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.GetMedia(ctx, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "control plane GET")
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
