package reconcile

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/screensync/internal/controlplane"
	"github.com/edvin/screensync/internal/controlplane/cptest"
	"github.com/edvin/screensync/internal/ledger"
	"github.com/edvin/screensync/internal/model"
	"github.com/edvin/screensync/internal/mutator"
	"github.com/edvin/screensync/internal/resolver"
)

// memStore is an in-memory screens table serving both the screen store and
// the ledger.
type memStore struct {
	mu       sync.Mutex
	screens  map[string]*model.Screen
	expected map[string]int64
	verifies map[string][]string
	modes    map[string]string
	adopted  []string
}

func newMemStore() *memStore {
	return &memStore{
		screens:  map[string]*model.Screen{},
		expected: map[string]int64{},
		verifies: map[string][]string{},
		modes:    map[string]string{},
	}
}

func (m *memStore) addScreen(id string, deviceID int64, playlistID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	scr := &model.Screen{ID: id, Name: "Screen " + id, Active: true}
	if deviceID > 0 {
		scr.DeviceID = &deviceID
	}
	m.screens[id] = scr
	if playlistID > 0 {
		m.expected[id] = playlistID
	}
}

func (m *memStore) GetByID(_ context.Context, id string) (*model.Screen, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	scr, ok := m.screens[id]
	if !ok {
		return nil, fmt.Errorf("get screen %s: %w", id, pgx.ErrNoRows)
	}
	out := *scr
	return &out, nil
}

func (m *memStore) ListSyncCandidates(_ context.Context) ([]model.Screen, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Screen
	for _, scr := range m.screens {
		if scr.Active && scr.Linked() {
			out = append(out, *scr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) RecordVerify(_ context.Context, id, mode, result string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifies[id] = append(m.verifies[id], result)
	m.modes[id] = mode
	return nil
}

func (m *memStore) GetExpected(_ context.Context, screenID string) (*int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.screens[screenID]; !ok {
		return nil, ledger.ErrScreenNotFound
	}
	id, ok := m.expected[screenID]
	if !ok {
		return nil, nil
	}
	return &id, nil
}

func (m *memStore) SetExpected(_ context.Context, screenID string, playlistID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expected[screenID] = playlistID
	return nil
}

func (m *memStore) Adopt(ctx context.Context, screenID string, playlistID int64) error {
	m.mu.Lock()
	m.adopted = append(m.adopted, screenID)
	m.mu.Unlock()
	return m.SetExpected(ctx, screenID, playlistID)
}

func (m *memStore) expectedFor(screenID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expected[screenID]
}

func (m *memStore) lastVerify(screenID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.verifies[screenID]
	if len(v) == 0 {
		return ""
	}
	return v[len(v)-1]
}

func media(id int64) controlplane.PlaylistItem {
	return controlplane.PlaylistItem{Type: "media", Item: controlplane.Ref{ID: id}, Duration: 10}
}

type harness struct {
	fake  *cptest.Server
	store *memStore
	rec   *Reconciler
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	fake := cptest.NewServer(t)
	store := newMemStore()
	client := fake.Client()
	rec := New(Deps{
		API:      client,
		Resolver: resolver.New(client, zerolog.Nop()),
		Mutator:  mutator.New(client, zerolog.Nop()),
		Ledger:   store,
		Screens:  store,
	}, opts, zerolog.Nop())
	return &harness{fake: fake, store: store, rec: rec}
}

func TestReconcileScreen_InSync(t *testing.T) {
	h := newHarness(t, Options{})
	h.fake.AddPlaylist(100, media(1), media(2))
	h.fake.AddScreen(501, "playlist", 100)
	h.store.addScreen("scr-1", 501, 100)

	res := h.rec.ReconcileScreen(context.Background(), "scr-1")

	assert.Equal(t, model.StateInSync, res.State)
	assert.True(t, res.InSync)
	assert.True(t, res.Healthy)
	assert.False(t, res.DriftDetected)
	assert.False(t, res.Repaired)
	assert.Equal(t, 2, res.MediaCount)
	assert.Empty(t, res.Code)
	assert.Equal(t, 0, h.fake.TotalWrites())
	assert.Equal(t, model.SyncResultOK, h.store.lastVerify("scr-1"))
}

func TestReconcileScreen_RepairsModeDrift(t *testing.T) {
	h := newHarness(t, Options{})
	h.fake.AddPlaylist(100, media(1))
	h.fake.AddScreen(501, "layout", 7)
	h.store.addScreen("scr-1", 501, 100)

	res := h.rec.ReconcileScreen(context.Background(), "scr-1")

	assert.True(t, res.DriftDetected)
	assert.True(t, res.Repaired)
	assert.True(t, res.InSync)
	assert.True(t, res.Healthy)
	assert.Equal(t, model.StateInSync, res.State)
	require.Len(t, res.Drift, 1)
	assert.Equal(t, DriftMode, res.Drift[0].Kind)
	assert.Equal(t, DriftActionRepaired, res.Drift[0].Action)
	assert.Equal(t, model.ContentSource{Type: "layout", ID: 7}, res.Drift[0].Actual)

	typ, id := h.fake.ScreenSource(501)
	assert.Equal(t, "playlist", typ)
	assert.Equal(t, int64(100), id)
	assert.Equal(t, model.SourcePlaylist, h.store.modes["scr-1"])
}

func TestReconcileScreen_RepairsPlaylistIDDrift(t *testing.T) {
	h := newHarness(t, Options{})
	h.fake.AddPlaylist(100, media(1))
	h.fake.AddPlaylist(200, media(9))
	h.fake.AddScreen(501, "playlist", 200)
	h.store.addScreen("scr-1", 501, 100)

	res := h.rec.ReconcileScreen(context.Background(), "scr-1")

	assert.True(t, res.Repaired)
	require.Len(t, res.Drift, 1)
	assert.Equal(t, DriftPlaylistID, res.Drift[0].Kind)
	assert.Equal(t, int64(100), h.store.expectedFor("scr-1"), "ledger is authoritative")
}

func TestReconcileScreen_RepairFailed(t *testing.T) {
	h := newHarness(t, Options{})
	h.fake.AddPlaylist(100, media(1))
	h.fake.AddScreen(501, "layout", 7)
	h.fake.DropContentUpdates(501)
	h.store.addScreen("scr-1", 501, 100)

	res := h.rec.ReconcileScreen(context.Background(), "scr-1")

	assert.Equal(t, model.StateRepairFailed, res.State)
	assert.Equal(t, model.CodeDriftRepairFailed, res.Code)
	assert.Equal(t, model.ActionRetry, res.Action)
	assert.True(t, res.DriftDetected)
	assert.False(t, res.InSync)
	assert.False(t, res.Healthy)
	assert.True(t, res.Failed())
	assert.Equal(t, 1, h.fake.CountRequests("PATCH /screens/501"), "one repair attempt per cycle")
	assert.Equal(t, model.SyncResultDrifted, h.store.lastVerify("scr-1"))
	assert.Equal(t, model.SourceLayout, h.store.modes["scr-1"])
}

func TestReconcileScreen_ReplacesDeletedDesiredPlaylist(t *testing.T) {
	h := newHarness(t, Options{TemplatePlaylistID: 900})
	h.fake.AddPlaylist(900, media(1))
	h.fake.AddScreen(501, "layout", 7)
	h.store.addScreen("scr-1", 501, 444)

	res := h.rec.ReconcileScreen(context.Background(), "scr-1")

	assert.Empty(t, res.Code)
	assert.True(t, res.Provisioned)
	assert.True(t, res.Repaired)
	assert.True(t, res.InSync)
	require.NotNil(t, res.ExpectedPlaylistID)
	newID := *res.ExpectedPlaylistID
	assert.NotEqual(t, int64(444), newID)
	assert.Equal(t, newID, h.store.expectedFor("scr-1"))
	require.Len(t, res.Drift, 1)
	assert.Equal(t, newID, res.Drift[0].Expected)

	typ, id := h.fake.ScreenSource(501)
	assert.Equal(t, "playlist", typ)
	assert.Equal(t, newID, id)

	again := h.rec.ReconcileScreen(context.Background(), "scr-1")
	assert.True(t, again.InSync)
	assert.False(t, again.DriftDetected)
	assert.Equal(t, 1, h.fake.CountRequests("POST /playlists"))
}

func TestReconcileScreen_DeletedDesiredPlaylistWithoutTemplate(t *testing.T) {
	h := newHarness(t, Options{})
	h.fake.AddScreen(501, "layout", 7)
	h.store.addScreen("scr-1", 501, 444)

	res := h.rec.ReconcileScreen(context.Background(), "scr-1")

	assert.Equal(t, model.CodeProvisionFailed, res.Code)
	assert.Equal(t, model.ActionManualReview, res.Action)
	assert.Equal(t, 0, h.fake.CountRequests("PATCH /screens/501"))
	assert.Equal(t, int64(444), h.store.expectedFor("scr-1"))
	assert.Equal(t, model.SyncResultFailed, h.store.lastVerify("scr-1"))
}

func TestReconcileScreen_AdoptsLivePlaylist(t *testing.T) {
	h := newHarness(t, Options{TemplatePlaylistID: 900})
	h.fake.AddPlaylist(300, media(3))
	h.fake.AddScreen(501, "playlist", 300)
	h.store.addScreen("scr-1", 501, 0)

	res := h.rec.ReconcileScreen(context.Background(), "scr-1")

	assert.True(t, res.Adopted)
	assert.True(t, res.InSync)
	assert.False(t, res.DriftDetected)
	assert.Equal(t, int64(300), h.store.expectedFor("scr-1"))
	assert.Equal(t, []string{"scr-1"}, h.store.adopted)
	assert.Equal(t, 0, h.fake.TotalWrites())
	assert.Equal(t, 0, h.fake.CountRequests("POST /playlists"))
}

func TestReconcileScreen_ProvisionsFromTemplate(t *testing.T) {
	h := newHarness(t, Options{TemplatePlaylistID: 900})
	h.fake.AddPlaylist(900, media(1), media(2))
	h.fake.AddScreen(501, "layout", 7)
	h.store.addScreen("scr-1", 501, 0)

	res := h.rec.ReconcileScreen(context.Background(), "scr-1")

	assert.True(t, res.Provisioned)
	assert.True(t, res.Repaired)
	assert.True(t, res.InSync)
	assert.True(t, res.Healthy)
	require.NotNil(t, res.ExpectedPlaylistID)

	newID := *res.ExpectedPlaylistID
	assert.NotEqual(t, int64(900), newID)
	assert.Equal(t, newID, h.store.expectedFor("scr-1"))
	assert.Equal(t, []int64{1, 2}, mutator.MediaIDs(h.fake.PlaylistItems(newID)))

	typ, id := h.fake.ScreenSource(501)
	assert.Equal(t, "playlist", typ)
	assert.Equal(t, newID, id)
}

func TestReconcileScreen_ProvisionWithoutTemplate(t *testing.T) {
	h := newHarness(t, Options{})
	h.fake.AddScreen(501, "layout", 7)
	h.store.addScreen("scr-1", 501, 0)

	res := h.rec.ReconcileScreen(context.Background(), "scr-1")

	assert.Equal(t, model.CodeProvisionFailed, res.Code)
	assert.Equal(t, model.ActionManualReview, res.Action)
	assert.Equal(t, model.StateNoDesiredState, res.State)
	assert.Equal(t, model.SyncResultFailed, h.store.lastVerify("scr-1"))
}

func TestReconcileScreen_EmptyPlaylistSeedsFiller(t *testing.T) {
	h := newHarness(t, Options{FillerMediaID: 55, FillerDuration: 8})
	h.fake.AddPlaylist(100)
	h.fake.AddScreen(501, "playlist", 100)
	h.store.addScreen("scr-1", 501, 100)

	res := h.rec.ReconcileScreen(context.Background(), "scr-1")

	assert.True(t, res.Healthy)
	assert.Empty(t, res.Code)
	assert.Equal(t, 1, res.MediaCount)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], string(model.CodeEmptyPlaylist))

	items := h.fake.PlaylistItems(100)
	assert.Equal(t, []int64{55}, mutator.MediaIDs(items))
	assert.Equal(t, 8, items[0].Duration)
}

func TestReconcileScreen_EmptyPlaylistWithoutFiller(t *testing.T) {
	h := newHarness(t, Options{})
	h.fake.AddPlaylist(100, controlplane.PlaylistItem{Type: "widget", Item: controlplane.Ref{ID: 3}})
	h.fake.AddScreen(501, "playlist", 100)
	h.store.addScreen("scr-1", 501, 100)

	res := h.rec.ReconcileScreen(context.Background(), "scr-1")

	assert.True(t, res.InSync)
	assert.False(t, res.Healthy)
	assert.Equal(t, model.CodeEmptyPlaylist, res.Code)
	assert.Equal(t, model.ActionManualReview, res.Action)
	assert.False(t, res.Failed())
	assert.Equal(t, model.SyncResultEmpty, h.store.lastVerify("scr-1"))
}

func TestReconcileScreen_Failures(t *testing.T) {
	h := newHarness(t, Options{})
	h.store.addScreen("unlinked", 0, 100)
	h.store.addScreen("gone", 999, 100)

	tests := []struct {
		screenID string
		code     model.FailureCode
	}{
		{"missing", model.CodeScreenNotFound},
		{"unlinked", model.CodeScreenNotLinked},
		{"gone", model.CodeScreenNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.screenID, func(t *testing.T) {
			res := h.rec.ReconcileScreen(context.Background(), tt.screenID)
			assert.Equal(t, tt.code, res.Code)
			assert.Equal(t, model.ActionManualReview, res.Action)
			assert.True(t, res.Failed())
		})
	}
}

func TestCheckScreen_IsReadOnly(t *testing.T) {
	h := newHarness(t, Options{TemplatePlaylistID: 900, FillerMediaID: 55})
	h.fake.AddPlaylist(100)
	h.fake.AddScreen(501, "layout", 7)
	h.store.addScreen("scr-1", 501, 100)

	res := h.rec.CheckScreen(context.Background(), "scr-1")

	assert.True(t, res.DriftDetected)
	assert.Equal(t, model.StateDrifted, res.State)
	assert.False(t, res.Repaired)
	assert.False(t, res.Healthy)
	require.Len(t, res.Drift, 1)
	assert.Equal(t, DriftActionReported, res.Drift[0].Action)

	assert.Equal(t, 0, h.fake.TotalWrites())
	assert.Equal(t, 0, h.fake.CountRequests("PATCH /screens/501"))
	assert.Equal(t, 0, h.fake.CountRequests("PATCH /playlists/100"))
	assert.Empty(t, h.store.lastVerify("scr-1"))
}

func TestCheckScreen_DoesNotAdopt(t *testing.T) {
	h := newHarness(t, Options{})
	h.fake.AddScreen(501, "playlist", 300)
	h.store.addScreen("scr-1", 501, 0)

	res := h.rec.CheckScreen(context.Background(), "scr-1")

	assert.Equal(t, model.StateNoDesiredState, res.State)
	assert.False(t, res.Adopted)
	assert.NotEmpty(t, res.Warnings)
	assert.Equal(t, int64(0), h.store.expectedFor("scr-1"))
}

func TestHealScreen_DoesNotSeedFiller(t *testing.T) {
	h := newHarness(t, Options{FillerMediaID: 55})
	h.fake.AddPlaylist(100)
	h.fake.AddScreen(501, "layout", 7)
	h.store.addScreen("scr-1", 501, 100)

	res := h.rec.HealScreen(context.Background(), "scr-1")

	assert.True(t, res.Repaired)
	assert.Empty(t, h.fake.PlaylistItems(100))
	assert.Empty(t, h.store.lastVerify("scr-1"))
}

func TestHealScreen_IgnoresContentResolution(t *testing.T) {
	h := newHarness(t, Options{})
	h.fake.AddPlaylist(100, media(1), controlplane.PlaylistItem{Type: "playlist", Item: controlplane.Ref{ID: 2}})
	h.fake.AddPlaylist(2, media(2))
	h.fake.FailGets("/playlists/2", 100)
	h.fake.AddScreen(501, "playlist", 100)
	h.store.addScreen("scr-1", 501, 100)

	res := h.rec.HealScreen(context.Background(), "scr-1")

	assert.False(t, res.Failed())
	assert.Empty(t, res.Code)
	assert.True(t, res.InSync)
	assert.True(t, res.Healthy)
	assert.Equal(t, 0, h.fake.CountRequests("GET /playlists/2"))
}

func TestEnsureScreenPlaylist_Idempotent(t *testing.T) {
	h := newHarness(t, Options{TemplatePlaylistID: 900})
	h.fake.AddPlaylist(900, media(1))
	h.store.addScreen("scr-1", 0, 0)
	ctx := context.Background()

	first, err := h.rec.EnsureScreenPlaylist(ctx, "scr-1")
	require.NoError(t, err)
	second, err := h.rec.EnsureScreenPlaylist(ctx, "scr-1")
	require.NoError(t, err)

	assert.True(t, first.Created)
	assert.False(t, second.Created)
	assert.Equal(t, first.PlaylistID, second.PlaylistID)
	assert.Equal(t, 1, second.ItemCount)
	assert.Equal(t, 1, h.fake.CountRequests("POST /playlists"))
}

func TestEnsureScreenPlaylist_ReplacesDeletedPlaylist(t *testing.T) {
	h := newHarness(t, Options{TemplatePlaylistID: 900})
	h.fake.AddPlaylist(900, media(1))
	h.store.addScreen("scr-1", 0, 444)

	res, err := h.rec.EnsureScreenPlaylist(context.Background(), "scr-1")
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.NotEqual(t, int64(444), res.PlaylistID)
	assert.Equal(t, res.PlaylistID, h.store.expectedFor("scr-1"))
}

func TestEnsureScreenPlaylist_UnknownScreen(t *testing.T) {
	h := newHarness(t, Options{TemplatePlaylistID: 900})

	_, err := h.rec.EnsureScreenPlaylist(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, model.CodeScreenNotFound, CodeOf(err))
}

func TestReconcileScreen_ConcurrentCallsRepairOnce(t *testing.T) {
	h := newHarness(t, Options{})
	h.fake.AddPlaylist(100, media(1))
	h.fake.AddScreen(501, "layout", 7)
	h.store.addScreen("scr-1", 501, 100)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := h.rec.ReconcileScreen(context.Background(), "scr-1")
			assert.True(t, res.InSync)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.fake.CountRequests("PATCH /screens/501"))
}

func TestRunReconciliationSweep_ContinuesPastFailures(t *testing.T) {
	h := newHarness(t, Options{})
	h.fake.AddPlaylist(100, media(1))
	h.fake.AddPlaylist(200, media(2))
	h.fake.AddPlaylist(300, media(3))
	h.fake.AddScreen(501, "playlist", 100)
	h.fake.AddScreen(502, "layout", 7)
	h.fake.DropContentUpdates(502)
	h.fake.AddScreen(503, "layout", 8)
	h.store.addScreen("scr-1", 501, 100)
	h.store.addScreen("scr-2", 502, 200)
	h.store.addScreen("scr-3", 503, 300)
	h.store.addScreen("scr-4", 0, 300)

	res, err := h.rec.RunReconciliationSweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 2, res.OK)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "scr-2", res.Errors[0].ScreenID)
	assert.Equal(t, string(model.CodeDriftRepairFailed), res.Errors[0].Code)

	typ, id := h.fake.ScreenSource(503)
	assert.Equal(t, "playlist", typ)
	assert.Equal(t, int64(300), id)
}

func TestRunReconciliationSweep_StopsOnCancel(t *testing.T) {
	h := newHarness(t, Options{})
	h.store.addScreen("scr-1", 501, 100)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.rec.RunReconciliationSweep(ctx)
	require.Error(t, err)
	assert.Equal(t, 0, res.Processed)
}
