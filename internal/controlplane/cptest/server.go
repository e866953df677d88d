// Package cptest provides an in-memory control-plane API for tests. It speaks
// the same HTTP contract as the real service, including both playlist item
// encodings and its eventual-consistency quirks.
package cptest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/edvin/screensync/internal/controlplane"
)

type playlistState struct {
	name      string
	workspace int64
	items     []controlplane.PlaylistItem
	serveAs   controlplane.ItemEncoding
}

// Server is a fake control plane.
type Server struct {
	srv *httptest.Server

	mu           sync.Mutex
	nextID       int64
	screens      map[int64]*controlplane.Screen
	playlists    map[int64]*playlistState
	layouts      map[int64]*controlplane.Layout
	schedules    map[int64]*controlplane.Schedule
	tagPlaylists map[int64]*controlplane.TagPlaylist
	media        map[int64]*controlplane.Media

	rejected       map[controlplane.ItemEncoding]bool
	failWrites     map[int64]int
	emptyReadBacks map[int64]int
	dropContent    map[int64]bool
	failPush       map[int64]int
	failGets       map[string]int
	playlistWrites map[int64]int
	pushes         map[int64]int
	writeEncodings []controlplane.ItemEncoding
	requests       []string
	pageSize       int
}

// NewServer starts a fake control plane that is closed when the test ends.
func NewServer(t testing.TB) *Server {
	s := &Server{
		nextID:         10000,
		screens:        map[int64]*controlplane.Screen{},
		playlists:      map[int64]*playlistState{},
		layouts:        map[int64]*controlplane.Layout{},
		schedules:      map[int64]*controlplane.Schedule{},
		tagPlaylists:   map[int64]*controlplane.TagPlaylist{},
		media:          map[int64]*controlplane.Media{},
		rejected:       map[controlplane.ItemEncoding]bool{},
		failWrites:     map[int64]int{},
		emptyReadBacks: map[int64]int{},
		dropContent:    map[int64]bool{},
		failPush:       map[int64]int{},
		failGets:       map[string]int{},
		playlistWrites: map[int64]int{},
		pushes:         map[int64]int{},
		pageSize:       100,
	}

	r := chi.NewRouter()
	r.Use(s.record)
	r.Get("/screens/{id}", s.getScreen)
	r.Patch("/screens/{id}", s.patchScreen)
	r.Post("/screens/{id}/push", s.pushScreen)
	r.Get("/playlists/{id}", s.getPlaylist)
	r.Patch("/playlists/{id}", s.patchPlaylist)
	r.Post("/playlists", s.createPlaylist)
	r.Get("/layouts/{id}", s.getLayout)
	r.Get("/schedules/{id}", s.getSchedule)
	r.Get("/tagbased-playlists/{id}", s.getTagPlaylist)
	r.Get("/media/{id}", s.getMedia)
	r.Get("/media", s.listMedia)

	s.srv = httptest.NewServer(r)
	t.Cleanup(s.srv.Close)
	return s
}

// URL returns the base URL of the fake.
func (s *Server) URL() string {
	return s.srv.URL
}

// Client returns a gateway client wired to the fake with fast retries.
func (s *Server) Client() *controlplane.Client {
	return controlplane.NewClient(controlplane.Options{
		BaseURL:        s.srv.URL,
		Token:          "test-token",
		MaxConcurrency: 4,
		Timeout:        5 * time.Second,
		MaxRetries:     2,
		RetryBackoff:   time.Millisecond,
		Logger:         zerolog.Nop(),
	})
}

// ---------- fixtures ----------

// AddScreen registers a device pointed at the given source.
func (s *Server) AddScreen(id int64, sourceType string, sourceID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scr := &controlplane.Screen{ID: id, Name: fmt.Sprintf("screen-%d", id)}
	if sourceType != "" {
		scr.ScreenContent = &controlplane.ContentRef{SourceType: sourceType, SourceID: controlplane.Ref{ID: sourceID}}
	}
	s.screens[id] = scr
}

// AddPlaylist registers a playlist served in the object encoding.
func (s *Server) AddPlaylist(id int64, items ...controlplane.PlaylistItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playlists[id] = &playlistState{
		name:    fmt.Sprintf("playlist-%d", id),
		items:   append([]controlplane.PlaylistItem(nil), items...),
		serveAs: controlplane.EncodingObject,
	}
}

// AddLayout registers a layout.
func (s *Server) AddLayout(l controlplane.Layout) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layouts[l.ID] = &l
}

// AddSchedule registers a schedule.
func (s *Server) AddSchedule(sc controlplane.Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[sc.ID] = &sc
}

// AddTagPlaylist registers a tag-filtered playlist.
func (s *Server) AddTagPlaylist(tp controlplane.TagPlaylist) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tagPlaylists[tp.ID] = &tp
}

// AddMedia registers a media item.
func (s *Server) AddMedia(m controlplane.Media) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.media[m.ID] = &m
}

// ---------- behaviour knobs ----------

// ServePlaylistAs switches the item encoding used when serving a playlist.
func (s *Server) ServePlaylistAs(id int64, enc controlplane.ItemEncoding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.playlists[id]; ok {
		p.serveAs = enc
	}
}

// RejectEncoding makes playlist writes in the given encoding fail with 400.
func (s *Server) RejectEncoding(enc controlplane.ItemEncoding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected[enc] = true
}

// FailPlaylistWrites makes the next n writes to a playlist fail with 500.
// A negative n fails every write.
func (s *Server) FailPlaylistWrites(id int64, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites[id] = n
}

// EmptyReadBacks makes the next n reads of a playlist return no items.
func (s *Server) EmptyReadBacks(id int64, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emptyReadBacks[id] = n
}

// DropContentUpdates acknowledges screen content updates without applying them.
func (s *Server) DropContentUpdates(deviceID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropContent[deviceID] = true
}

// FailPush makes the next n pushes to a device fail with 500. A negative n
// fails every push.
func (s *Server) FailPush(deviceID int64, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPush[deviceID] = n
}

// FailGets makes the next n GETs of the exact path fail with 503.
func (s *Server) FailGets(path string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failGets[path] = n
}

// SetMediaPageSize changes the page size of the media listing.
func (s *Server) SetMediaPageSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageSize = n
}

// ---------- inspection ----------

// PlaylistItems returns a copy of a playlist's stored items.
func (s *Server) PlaylistItems(id int64) []controlplane.PlaylistItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.playlists[id]
	if !ok {
		return nil
	}
	return append([]controlplane.PlaylistItem(nil), p.items...)
}

// PlaylistIDs returns the ids of all stored playlists in ascending order.
func (s *Server) PlaylistIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.playlists))
	for id := range s.playlists {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ScreenSource returns the source a device is currently pointed at.
func (s *Server) ScreenSource(deviceID int64) (string, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scr, ok := s.screens[deviceID]
	if !ok || scr.ScreenContent == nil {
		return "", 0
	}
	return scr.ScreenContent.SourceType, scr.ScreenContent.SourceID.ID
}

// PlaylistWrites returns how many successful writes a playlist received.
func (s *Server) PlaylistWrites(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playlistWrites[id]
}

// TotalWrites returns the number of acknowledged mutating requests.
func (s *Server) TotalWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.playlistWrites {
		n += c
	}
	for _, c := range s.pushes {
		n += c
	}
	return n
}

// Pushes returns how many successful pushes a device received.
func (s *Server) Pushes(deviceID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushes[deviceID]
}

// WriteEncodings returns the encodings of all accepted playlist writes in order.
func (s *Server) WriteEncodings() []controlplane.ItemEncoding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]controlplane.ItemEncoding(nil), s.writeEncodings...)
}

// Requests returns "METHOD path" for every request received.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// CountRequests counts received requests matching "METHOD path" exactly.
func (s *Server) CountRequests(methodPath string) int {
	n := 0
	for _, r := range s.Requests() {
		if r == methodPath {
			n++
		}
	}
	return n
}

// ---------- handlers ----------

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.Method+" "+r.URL.Path)
		fail := 0
		if r.Method == http.MethodGet {
			if n := s.failGets[r.URL.Path]; n > 0 {
				s.failGets[r.URL.Path] = n - 1
				fail = n
			}
		}
		s.mu.Unlock()
		if fail > 0 {
			writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
			return
		}
		if r.Header.Get("Authorization") == "" {
			writeError(w, http.StatusUnauthorized, "missing token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) getScreen(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	scr, found := s.screens[id]
	var out controlplane.Screen
	if found {
		out = *scr
	}
	s.mu.Unlock()
	if !found {
		writeError(w, http.StatusNotFound, "screen not found")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) patchScreen(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		ScreenContent *controlplane.ContentRef `json:"screen_content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ScreenContent == nil {
		writeError(w, http.StatusBadRequest, "invalid screen_content")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	scr, found := s.screens[id]
	if !found {
		writeError(w, http.StatusNotFound, "screen not found")
		return
	}
	if !s.dropContent[id] {
		sc := *body.ScreenContent
		scr.ScreenContent = &sc
	}
	writeJSON(w, http.StatusOK, scr)
}

func (s *Server) pushScreen(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.screens[id]; !found {
		writeError(w, http.StatusNotFound, "screen not found")
		return
	}
	if n := s.failPush[id]; n != 0 {
		if n > 0 {
			s.failPush[id] = n - 1
		}
		writeError(w, http.StatusInternalServerError, "push failed")
		return
	}
	s.pushes[id]++
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getPlaylist(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	p, found := s.playlists[id]
	if !found {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "playlist not found")
		return
	}
	items := p.items
	if n := s.emptyReadBacks[id]; n > 0 {
		s.emptyReadBacks[id] = n - 1
		items = nil
	}
	encoded, err := controlplane.EncodeItems(items, p.serveAs)
	name, workspace := p.name, p.workspace
	s.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, struct {
		ID        int64           `json:"id"`
		Name      string          `json:"name"`
		Workspace int64           `json:"workspace"`
		Items     json.RawMessage `json:"items"`
	}{ID: id, Name: name, Workspace: workspace, Items: encoded})
}

func (s *Server) patchPlaylist(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	items, enc, ok := s.decodeItems(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, found := s.playlists[id]
	if !found {
		writeError(w, http.StatusNotFound, "playlist not found")
		return
	}
	if n := s.failWrites[id]; n != 0 {
		if n > 0 {
			s.failWrites[id] = n - 1
		}
		writeError(w, http.StatusInternalServerError, "write failed")
		return
	}
	if s.rejected[enc] {
		writeError(w, http.StatusBadRequest, "invalid item format")
		return
	}
	p.items = items
	s.playlistWrites[id]++
	s.writeEncodings = append(s.writeEncodings, enc)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) createPlaylist(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name  string          `json:"name"`
		Items json.RawMessage `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	items, enc, err := parseItems(body.Items)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rejected[enc] {
		writeError(w, http.StatusBadRequest, "invalid item format")
		return
	}
	s.nextID++
	id := s.nextID
	s.playlists[id] = &playlistState{name: body.Name, items: items, serveAs: controlplane.EncodingObject}
	s.writeEncodings = append(s.writeEncodings, enc)
	writeJSON(w, http.StatusCreated, controlplane.Playlist{ID: id, Name: body.Name, Items: items})
}

func (s *Server) getLayout(w http.ResponseWriter, r *http.Request) {
	getFrom(s, w, r, s.layouts, "layout")
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	getFrom(s, w, r, s.schedules, "schedule")
}

func (s *Server) getTagPlaylist(w http.ResponseWriter, r *http.Request) {
	getFrom(s, w, r, s.tagPlaylists, "tagbased playlist")
}

func (s *Server) getMedia(w http.ResponseWriter, r *http.Request) {
	getFrom(s, w, r, s.media, "media")
}

func (s *Server) listMedia(w http.ResponseWriter, r *http.Request) {
	workspace, _ := strconv.ParseInt(r.URL.Query().Get("workspace"), 10, 64)
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	s.mu.Lock()
	var matched []controlplane.Media
	for _, m := range s.media {
		if workspace == 0 || m.Workspace.ID == workspace {
			matched = append(matched, *m)
		}
	}
	limit := s.pageSize
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	if offset > len(matched) {
		offset = len(matched)
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}

	var next *string
	if end < len(matched) {
		n := fmt.Sprintf("/media?workspace=%d&offset=%d", workspace, end)
		next = &n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(matched),
		"next":    next,
		"results": matched[offset:end],
	})
}

func getFrom[T any](s *Server, w http.ResponseWriter, r *http.Request, store map[int64]*T, kind string) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	v, found := store[id]
	var out T
	if found {
		out = *v
	}
	s.mu.Unlock()
	if !found {
		writeError(w, http.StatusNotFound, kind+" not found")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) decodeItems(w http.ResponseWriter, r *http.Request) ([]controlplane.PlaylistItem, controlplane.ItemEncoding, bool) {
	var body struct {
		Items json.RawMessage `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return nil, "", false
	}
	items, enc, err := parseItems(body.Items)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, "", false
	}
	return items, enc, true
}

// parseItems decodes a written items array and reports which reference shape
// the writer used.
func parseItems(raw json.RawMessage) ([]controlplane.PlaylistItem, controlplane.ItemEncoding, error) {
	if len(raw) == 0 {
		return nil, controlplane.EncodingObject, nil
	}
	var shapes []struct {
		Item json.RawMessage `json:"item"`
	}
	if err := json.Unmarshal(raw, &shapes); err != nil {
		return nil, "", fmt.Errorf("items must be an array")
	}
	enc := controlplane.EncodingObject
	for _, sh := range shapes {
		if t := bytes.TrimSpace(sh.Item); len(t) > 0 && t[0] != '{' {
			enc = controlplane.EncodingBareID
		}
	}
	var items []controlplane.PlaylistItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, "", fmt.Errorf("invalid items: %v", err)
	}
	return items, enc, nil
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
