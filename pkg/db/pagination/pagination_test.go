package pagination

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	token, err := EncodeCursor(Cursor{ID: "42"})
	require.NoError(t, err)

	cursor, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, "42", cursor.ID)

	empty, err := DecodeCursor("  ")
	require.NoError(t, err)
	assert.Empty(t, empty.ID)

	_, err = DecodeCursor("%%%")
	assert.ErrorIs(t, err, ErrInvalidPageToken)
}

func TestBuildCursorPageInfo(t *testing.T) {
	extract := func(v *int) Cursor { return Cursor{ID: strconv.Itoa(*v)} }

	rows, info, err := BuildCursorPageInfo([]int{1, 2, 3}, 2, extract)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, rows)
	assert.True(t, info.HasMore)

	cursor, err := DecodeCursor(info.NextPageToken)
	require.NoError(t, err)
	assert.Equal(t, "2", cursor.ID)

	rows, info, err = BuildCursorPageInfo([]int{1, 2}, 2, extract)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.False(t, info.HasMore)
	assert.Empty(t, info.NextPageToken)
}
