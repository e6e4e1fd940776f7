package ds

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSet_Json(t *testing.T) {
	s := NewStringSet("hello", "world", "!")

	var data []byte

	data, _ = json.Marshal(&s)
	require.Equal(t, `["hello","world","!"]`, string(data))

	data, _ = json.Marshal(s)
	require.Equal(t, `["hello","world","!"]`, string(data))

	data, _ = json.Marshal(*s)
	require.Equal(t, `["hello","world","!"]`, string(data))

	var back Set[string]
	require.NoError(t, json.Unmarshal(data, &back))
	require.Equal(t, []string{"hello", "world", "!"}, back.Values())
}

func TestSet_AddRemove(t *testing.T) {
	s := NewStringSet()
	require.True(t, s.IsEmpty())

	s.Add("hello")
	s.Add("hello")
	require.False(t, s.IsEmpty())
	require.Equal(t, 1, s.Len())
	require.True(t, s.Contains("hello"))

	s.Remove("hello")
	require.True(t, s.IsEmpty())
	require.False(t, s.Contains("hello"))
}

func TestSet_Order(t *testing.T) {
	s := NewStringSet("c", "a", "b")
	require.Equal(t, []string{"c", "a", "b"}, s.Values())

	s.Remove("a")
	s.Add("a")
	require.Equal(t, []string{"c", "b", "a"}, s.Values())

	var seen []string
	s.ForEach(func(v string) { seen = append(seen, v) })
	require.Equal(t, []string{"c", "b", "a"}, seen)
}

func TestSet_Filter(t *testing.T) {
	s := NewSet(1, 2, 3, 4, 5)
	even := s.Filter(func(v int) bool { return v%2 == 0 })
	require.Equal(t, []int{2, 4}, even.Values())
	// receiver untouched
	require.Equal(t, 5, s.Len())
}

func TestSet_Clear(t *testing.T) {
	s := NewStringSet("a", "b")
	s.Clear()
	require.True(t, s.IsEmpty())

	// usable after Clear
	s.Add("c")
	require.Equal(t, []string{"c"}, s.Values())
}
