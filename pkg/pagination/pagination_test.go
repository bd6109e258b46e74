package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePaginationParamsDefaults(t *testing.T) {
	params, err := ParsePaginationParams("", "", "updatedAt", "")

	require.NoError(t, err)
	assert.Equal(t, DefaultPage, params.Page)
	assert.Equal(t, DefaultLimit, params.Limit)
	assert.Equal(t, 0, params.Offset)
	assert.Equal(t, "updatedAt", params.SortBy)
	assert.Equal(t, "desc", params.SortOrder)
}

func TestParsePaginationParamsClampsLimit(t *testing.T) {
	params, err := ParsePaginationParams("2", "500", "updatedAt", "asc")

	require.NoError(t, err)
	assert.Equal(t, MaxLimit, params.Limit)
	assert.Equal(t, MaxLimit, params.Offset)
	assert.Equal(t, "asc", params.SortOrder)

	params, err = ParsePaginationParams("1", "0", "updatedAt", "asc")
	require.NoError(t, err)
	assert.Equal(t, MinLimit, params.Limit)
}

func TestParsePaginationParamsRejectsGarbage(t *testing.T) {
	_, err := ParsePaginationParams("two", "", "updatedAt", "desc")
	assert.Error(t, err)

	_, err = ParsePaginationParams("", "many", "updatedAt", "desc")
	assert.Error(t, err)
}

func TestParsePaginationParamsIgnoresNonPositivePage(t *testing.T) {
	params, err := ParsePaginationParams("-3", "10", "updatedAt", "desc")

	require.NoError(t, err)
	assert.Equal(t, DefaultPage, params.Page)
	assert.Equal(t, 0, params.Offset)
}

func TestBuildPaginationResponse(t *testing.T) {
	params := &PaginationParams{Page: 2, Limit: 20}

	resp := BuildPaginationResponse(params, 45)

	assert.Equal(t, 2, resp.CurrentPage)
	assert.Equal(t, 3, resp.TotalPages)
	assert.Equal(t, int64(45), resp.TotalCount)
	assert.True(t, resp.HasNextPage)
	assert.True(t, resp.HasPrevPage)
}

func TestBuildCursorMeta(t *testing.T) {
	meta := BuildCursorMeta(50, 50, "abc")
	assert.True(t, meta.HasMore)
	assert.Equal(t, "abc", meta.NextCursor)

	meta = BuildCursorMeta(12, 50, "abc")
	assert.False(t, meta.HasMore)
	assert.Empty(t, meta.NextCursor)
}
