package controlplane

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/edvin/screensync/internal/model"
)

// Ref is a reference to a control-plane resource. Depending on the API version
// the control plane encodes references either as an embedded object carrying
// an "id" field or as a bare numeric id. Ref decodes both into the same value;
// ItemEncoding selects the shape on the way out. Nothing outside this file
// inspects the raw shape.
type Ref struct {
	ID   int64
	Name string
}

// Valid reports whether the reference carried a usable id.
func (r Ref) Valid() bool {
	return r.ID > 0
}

// UnmarshalJSON accepts a bare number, a numeric string, or an object with an
// "id" field. Any other shape decodes to the zero Ref instead of failing the
// enclosing document.
func (r *Ref) UnmarshalJSON(b []byte) error {
	*r = Ref{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '{' {
		var obj struct {
			ID   json.RawMessage `json:"id"`
			Name string          `json:"name"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return nil
		}
		r.ID = scalarID(obj.ID)
		r.Name = obj.Name
		return nil
	}
	r.ID = scalarID(b)
	return nil
}

// MarshalJSON emits the object form.
func (r Ref) MarshalJSON() ([]byte, error) {
	return r.encode(EncodingObject)
}

func (r Ref) encode(enc ItemEncoding) ([]byte, error) {
	switch enc {
	case EncodingBareID:
		return []byte(strconv.FormatInt(r.ID, 10)), nil
	case EncodingObject:
		return json.Marshal(struct {
			ID int64 `json:"id"`
		}{ID: r.ID})
	default:
		return nil, fmt.Errorf("unsupported item encoding %q", enc)
	}
}

func scalarID(b json.RawMessage) int64 {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return 0
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return 0
		}
		b = []byte(s)
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		id, perr := strconv.ParseInt(string(b), 10, 64)
		if perr != nil {
			return 0
		}
		return id
	}
	if id, err := n.Int64(); err == nil {
		return id
	}
	if f, err := n.Float64(); err == nil && f == float64(int64(f)) {
		return int64(f)
	}
	return 0
}

// ItemEncoding is the wire shape used for item references in playlist writes.
type ItemEncoding string

const (
	EncodingObject ItemEncoding = "object"
	EncodingBareID ItemEncoding = "bare"
)

// Encodings lists the supported write encodings in default preference order.
var Encodings = []ItemEncoding{EncodingObject, EncodingBareID}

// PlaylistItem is one entry of a playlist. Items decoded from the control
// plane keep their original JSON so that fields this package does not model,
// and references it cannot read, survive a full items replace.
type PlaylistItem struct {
	Type     string `json:"type"`
	Item     Ref    `json:"item"`
	Duration int    `json:"duration,omitempty"`
	Priority int    `json:"priority,omitempty"`

	raw        json.RawMessage
	unreadable bool
}

// UnmarshalJSON decodes an item and remembers its raw form.
func (it *PlaylistItem) UnmarshalJSON(b []byte) error {
	type plain PlaylistItem
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	var shape struct {
		Item json.RawMessage `json:"item"`
	}
	if err := json.Unmarshal(b, &shape); err != nil {
		return err
	}
	*it = PlaylistItem(p)
	it.raw = append(json.RawMessage(nil), b...)
	ref := bytes.TrimSpace(shape.Item)
	it.unreadable = !it.Item.Valid() && len(ref) > 0 && !bytes.Equal(ref, []byte("null"))
	return nil
}

// MarshalJSON emits the object form, keeping the item's original fields.
func (it PlaylistItem) MarshalJSON() ([]byte, error) {
	return it.encode(EncodingObject, it.Priority)
}

// Unreadable reports whether the item carried a reference in a shape that
// could not be decoded. Such items are written back exactly as they were read.
func (it PlaylistItem) Unreadable() bool {
	return it.unreadable
}

// MediaID returns the referenced media id, or 0 for non-media items.
func (it PlaylistItem) MediaID() int64 {
	if it.Type != model.ItemMedia {
		return 0
	}
	return it.Item.ID
}

type wireItem struct {
	Type     string          `json:"type"`
	Item     json.RawMessage `json:"item"`
	Duration int             `json:"duration"`
	Priority int             `json:"priority"`
}

// EncodeItems renders the complete items array in the given encoding.
// Priorities are renumbered to follow slice order. Fields of decoded items
// that are not modelled here are carried over, and unreadable references are
// emitted as received.
func EncodeItems(items []PlaylistItem, enc ItemEncoding) (json.RawMessage, error) {
	if enc != EncodingObject && enc != EncodingBareID {
		return nil, fmt.Errorf("unsupported item encoding %q", enc)
	}
	out := make([]json.RawMessage, 0, len(items))
	for i, it := range items {
		b, err := it.encode(enc, i+1)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return json.Marshal(out)
}

func (it PlaylistItem) encode(enc ItemEncoding, priority int) (json.RawMessage, error) {
	var ref json.RawMessage
	if !it.unreadable {
		var err error
		if ref, err = it.Item.encode(enc); err != nil {
			return nil, err
		}
	}
	if len(it.raw) == 0 {
		return json.Marshal(wireItem{Type: it.Type, Item: ref, Duration: it.Duration, Priority: priority})
	}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(it.raw, &fields); err != nil {
		return nil, fmt.Errorf("re-encode playlist item: %w", err)
	}
	set := func(key string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		fields[key] = b
		return nil
	}
	if err := set("type", it.Type); err != nil {
		return nil, err
	}
	if ref != nil {
		fields["item"] = ref
	}
	if err := set("duration", it.Duration); err != nil {
		return nil, err
	}
	if err := set("priority", priority); err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

// Playlist is an ordered list of items.
type Playlist struct {
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	Workspace Ref            `json:"workspace"`
	Items     []PlaylistItem `json:"items"`
}

// LayoutItem is the single item held by a layout region.
type LayoutItem struct {
	Type string `json:"type"`
	ID   Ref    `json:"id"`
}

// LayoutRegion is one region of a layout.
type LayoutRegion struct {
	Name string      `json:"name,omitempty"`
	Item *LayoutItem `json:"item"`
}

// Layout is a set of regions plus optional background audio.
type Layout struct {
	ID              int64          `json:"id"`
	Name            string         `json:"name"`
	Regions         []LayoutRegion `json:"regions"`
	BackgroundAudio *LayoutItem    `json:"background_audio,omitempty"`
}

// ContentRef is the (source_type, source_id) pair used for screen content,
// schedule events and filler content.
type ContentRef struct {
	SourceType string `json:"source_type"`
	SourceID   Ref    `json:"source_id"`
}

// Source converts to the normalized model value.
func (c ContentRef) Source() model.ContentSource {
	return model.ContentSource{Type: c.SourceType, ID: c.SourceID.ID}
}

// ScheduleEvent is a timed slot of a schedule.
type ScheduleEvent struct {
	Source ContentRef `json:"source"`
	Start  string     `json:"start_time,omitempty"`
	End    string     `json:"end_time,omitempty"`
}

// Schedule is a set of timed events plus filler content.
type Schedule struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Events        []ScheduleEvent `json:"events"`
	FillerContent *ContentRef     `json:"filler_content,omitempty"`
}

// TagPlaylist is a playlist whose membership is defined by tag matching.
type TagPlaylist struct {
	ID            int64    `json:"id"`
	Name          string   `json:"name"`
	Workspaces    []Ref    `json:"workspaces"`
	Tags          []string `json:"tags"`
	ExcludedMedia []Ref    `json:"excluded_media"`
}

// Media is a terminal content unit.
type Media struct {
	ID        int64    `json:"id"`
	Name      string   `json:"name"`
	MediaType string   `json:"media_type"`
	Duration  float64  `json:"duration"`
	Status    string   `json:"status"`
	FileSize  int64    `json:"file_size"`
	Tags      []string `json:"tags"`
	Workspace Ref      `json:"workspace"`
}

// Screen is a control-plane device.
type Screen struct {
	ID            int64       `json:"id"`
	Name          string      `json:"name"`
	ScreenContent *ContentRef `json:"screen_content"`
}

// Source returns the screen's current content source, or an unknown source
// when the control plane reports none.
func (s *Screen) Source() model.ContentSource {
	if s.ScreenContent == nil {
		return model.ContentSource{Type: model.ModeUnknown}
	}
	return s.ScreenContent.Source()
}

// page is the paginated list envelope.
type page[T any] struct {
	Count   int     `json:"count"`
	Next    *string `json:"next"`
	Results []T     `json:"results"`
}
