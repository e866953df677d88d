package controlplane

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRef_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Ref
	}{
		{"bare number", `42`, Ref{ID: 42}},
		{"numeric string", `"42"`, Ref{ID: 42}},
		{"object", `{"id": 42, "name": "spot"}`, Ref{ID: 42, Name: "spot"}},
		{"object with string id", `{"id": "42"}`, Ref{ID: 42}},
		{"float", `42.0`, Ref{ID: 42}},
		{"null", `null`, Ref{}},
		{"array", `[42]`, Ref{}},
		{"bool", `true`, Ref{}},
		{"garbage string", `"abc"`, Ref{}},
		{"object without id", `{"name": "x"}`, Ref{Name: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r Ref
			require.NoError(t, json.Unmarshal([]byte(tt.in), &r))
			assert.Equal(t, tt.want, r)
		})
	}
}

func TestRef_InvalidShapeDoesNotBreakEnclosingItems(t *testing.T) {
	raw := `[{"type":"media","item":{"id":1}},{"type":"media","item":[1,2]},{"type":"media","item":3}]`
	var items []PlaylistItem
	require.NoError(t, json.Unmarshal([]byte(raw), &items))
	require.Len(t, items, 3)
	assert.Equal(t, int64(1), items[0].MediaID())
	assert.False(t, items[1].Item.Valid())
	assert.Equal(t, int64(3), items[2].MediaID())
}

func TestPlaylistItem_DualShapeDecodesIdentically(t *testing.T) {
	objects := `[{"type":"media","item":{"id":7,"name":"a"},"duration":10},{"type":"widget","item":{"id":8}},{"type":"playlist","item":{"id":9}}]`
	bare := `[{"type":"media","item":7,"duration":10},{"type":"widget","item":8},{"type":"playlist","item":9}]`

	var a, b []PlaylistItem
	require.NoError(t, json.Unmarshal([]byte(objects), &a))
	require.NoError(t, json.Unmarshal([]byte(bare), &b))

	require.Len(t, a, 3)
	require.Len(t, b, 3)
	for i := range a {
		assert.Equal(t, a[i].Type, b[i].Type)
		assert.Equal(t, a[i].Item.ID, b[i].Item.ID)
		assert.Equal(t, a[i].MediaID(), b[i].MediaID())
	}
	assert.Equal(t, int64(7), a[0].MediaID())
	assert.Equal(t, int64(0), a[1].MediaID())
}

func TestEncodeItems(t *testing.T) {
	items := []PlaylistItem{
		{Type: "media", Item: Ref{ID: 1}, Duration: 10, Priority: 9},
		{Type: "playlist", Item: Ref{ID: 2}},
	}

	obj, err := EncodeItems(items, EncodingObject)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"type":"media","item":{"id":1},"duration":10,"priority":1},{"type":"playlist","item":{"id":2},"duration":0,"priority":2}]`, string(obj))

	bare, err := EncodeItems(items, EncodingBareID)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"type":"media","item":1,"duration":10,"priority":1},{"type":"playlist","item":2,"duration":0,"priority":2}]`, string(bare))

	_, err = EncodeItems(items, ItemEncoding("xml"))
	require.Error(t, err)
}

func TestEncodeItems_Empty(t *testing.T) {
	out, err := EncodeItems(nil, EncodingObject)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(out))
}

func TestScreen_Source(t *testing.T) {
	var s Screen
	require.NoError(t, json.Unmarshal([]byte(`{"id":1,"screen_content":{"source_type":"layout","source_id":{"id":5}}}`), &s))
	assert.Equal(t, "layout", s.Source().Type)
	assert.Equal(t, int64(5), s.Source().ID)

	var empty Screen
	require.NoError(t, json.Unmarshal([]byte(`{"id":1,"screen_content":null}`), &empty))
	assert.Equal(t, "unknown", empty.Source().Type)
}

func TestEncodeItems_KeepsUnreadableReferencesAndUnknownFields(t *testing.T) {
	raw := `[{"type":"media","item":{"media_uuid":"abc-123"},"duration":5},{"type":"media","item":{"id":11},"duration":10,"transition":"fade"}]`
	var items []PlaylistItem
	require.NoError(t, json.Unmarshal([]byte(raw), &items))
	require.Len(t, items, 2)
	assert.True(t, items[0].Unreadable())
	assert.False(t, items[1].Unreadable())

	items = append(items, PlaylistItem{Type: "media", Item: Ref{ID: 12}, Duration: 10})

	for _, enc := range Encodings {
		t.Run(string(enc), func(t *testing.T) {
			out, err := EncodeItems(items, enc)
			require.NoError(t, err)

			var written []map[string]json.RawMessage
			require.NoError(t, json.Unmarshal(out, &written))
			require.Len(t, written, 3)
			assert.JSONEq(t, `{"media_uuid":"abc-123"}`, string(written[0]["item"]))
			assert.JSONEq(t, `"fade"`, string(written[1]["transition"]))
			assert.JSONEq(t, `3`, string(written[2]["priority"]))
		})
	}
}

func TestPlaylistItem_NullReferenceIsNotUnreadable(t *testing.T) {
	var it PlaylistItem
	require.NoError(t, json.Unmarshal([]byte(`{"type":"widget","item":null}`), &it))
	assert.False(t, it.Unreadable())
}
