package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsetrack/api/models"
)

func viewers(ids ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func TestDeriveFlow_LongestHistoryBecomesMainFlow(t *testing.T) {
	navigationPaths := map[string][]string{
		"visitor-a": {"/home", "/products", "/cart", "/checkout"},
		"visitor-b": {"/home", "/about"},
	}
	pageViewers := map[string]map[string]struct{}{
		"/checkout": viewers("visitor-a"),
		"/about":    viewers("visitor-b"),
	}

	flow := deriveFlow(navigationPaths, pageViewers)

	require.Len(t, flow.MainFlow, 4)
	assert.Equal(t, "/home", flow.MainFlow[0].Path)
	assert.Equal(t, "/checkout", flow.MainFlow[3].Path)

	// Viewer counts come from live presence data, not placeholders.
	assert.Equal(t, 1, flow.MainFlow[3].Viewers)
	assert.Equal(t, 0, flow.MainFlow[0].Viewers)

	require.Len(t, flow.SecondaryPages, 1)
	assert.Equal(t, models.PageViewers{Path: "/about", Viewers: 1}, flow.SecondaryPages[0])
}

func TestDeriveFlow_RevisitedPagesDeduplicated(t *testing.T) {
	navigationPaths := map[string][]string{
		"visitor-a": {"/home", "/cart", "/home", "/checkout"},
	}

	flow := deriveFlow(navigationPaths, nil)

	require.Len(t, flow.MainFlow, 3)
	assert.Equal(t, "/home", flow.MainFlow[0].Path)
	assert.Equal(t, "/cart", flow.MainFlow[1].Path)
	assert.Equal(t, "/checkout", flow.MainFlow[2].Path)
}

func TestDeriveFlow_EmptyState(t *testing.T) {
	flow := deriveFlow(nil, nil)
	assert.Empty(t, flow.MainFlow)
	assert.Empty(t, flow.SecondaryPages)

	flow = deriveFlow(map[string][]string{"visitor-a": {}}, nil)
	assert.Empty(t, flow.MainFlow)
	assert.Empty(t, flow.SecondaryPages)
}

func TestDeriveFlow_DeterministicOnTies(t *testing.T) {
	navigationPaths := map[string][]string{
		"visitor-a": {"/b", "/c"},
		"visitor-b": {"/a", "/d"},
	}

	want := deriveFlow(navigationPaths, nil)
	for i := 0; i < 10; i++ {
		assert.Equal(t, want, deriveFlow(navigationPaths, nil))
	}
	// Lexicographic tie-break picks the /a history.
	assert.Equal(t, "/a", want.MainFlow[0].Path)
}
