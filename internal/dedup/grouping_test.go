package dedup

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scamnemesis/report-engine/internal/models"
)

func TestMemberKeyOrderInvariant(t *testing.T) {
	a := uuid.New()
	b := uuid.New()
	c := uuid.New()

	key := MemberKey([]uuid.UUID{a, b, c})
	assert.Equal(t, key, MemberKey([]uuid.UUID{c, a, b}))
	assert.Equal(t, key, MemberKey([]uuid.UUID{b, c, a}))

	assert.NotEqual(t, key, MemberKey([]uuid.UUID{a, b}))
}

func TestGroupEdgesTransitive(t *testing.T) {
	a := uuid.New()
	b := uuid.New()
	c := uuid.New()

	// A-B and B-C connect all three into one component even though A and C
	// never matched each other directly
	edges := []pairEdge{
		{A: a, B: b, Match: Match{Matched: true, MatchType: models.MatchTypePhoneExact, Confidence: 80}},
		{A: b, B: c, Match: Match{Matched: true, MatchType: models.MatchTypeIBANExact, Confidence: 84}},
	}

	components := groupEdges(edges)
	require.Len(t, components, 1)

	comp := components[0]
	assert.ElementsMatch(t, []uuid.UUID{a, b, c}, comp.Members)
	assert.Equal(t, models.MatchTypeIBANExact, comp.MatchType)
	assert.Equal(t, 84, comp.Confidence)
}

func TestGroupEdgesSeparateComponents(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	c, d := uuid.New(), uuid.New()

	edges := []pairEdge{
		{A: a, B: b, Match: Match{Matched: true, MatchType: models.MatchTypeNameAndLocation, Confidence: 65}},
		{A: c, B: d, Match: Match{Matched: true, MatchType: models.MatchTypePhoneAndIBAN, Confidence: 93}},
	}

	components := groupEdges(edges)
	require.Len(t, components, 2)

	// Components come back ordered by confidence, strongest first
	assert.Equal(t, 93, components[0].Confidence)
	assert.ElementsMatch(t, []uuid.UUID{c, d}, components[0].Members)
	assert.Equal(t, 65, components[1].Confidence)
	assert.ElementsMatch(t, []uuid.UUID{a, b}, components[1].Members)
}

func TestGroupEdgesPerMemberSimilarity(t *testing.T) {
	a := uuid.New()
	b := uuid.New()
	c := uuid.New()

	edges := []pairEdge{
		{A: a, B: b, Match: Match{Matched: true, MatchType: models.MatchTypeMultiStrong, Confidence: 93}},
		{A: b, B: c, Match: Match{Matched: true, MatchType: models.MatchTypeNameAndLocation, Confidence: 65}},
	}

	components := groupEdges(edges)
	require.Len(t, components, 1)

	sim := components[0].Similarity
	assert.Equal(t, 93, sim[a])
	assert.Equal(t, 93, sim[b]) // best edge wins for members on multiple edges
	assert.Equal(t, 65, sim[c])
}

func TestGroupEdgesMembersSorted(t *testing.T) {
	a := uuid.New()
	b := uuid.New()
	c := uuid.New()

	edges := []pairEdge{
		{A: c, B: a, Match: Match{Matched: true, MatchType: models.MatchTypePhoneExact, Confidence: 80}},
		{A: b, B: c, Match: Match{Matched: true, MatchType: models.MatchTypePhoneExact, Confidence: 80}},
	}

	components := groupEdges(edges)
	require.Len(t, components, 1)

	members := components[0].Members
	require.Len(t, members, 3)
	for i := 1; i < len(members); i++ {
		assert.Less(t, members[i-1].String(), members[i].String())
	}
	assert.Equal(t, MemberKey([]uuid.UUID{a, b, c}), MemberKey(members))
}

func TestGroupEdgesEqualConfidenceDeterministic(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	c, d := uuid.New(), uuid.New()
	e, f := uuid.New(), uuid.New()

	edges := []pairEdge{
		{A: a, B: b, Match: Match{Matched: true, MatchType: models.MatchTypePhoneExact, Confidence: 80}},
		{A: c, B: d, Match: Match{Matched: true, MatchType: models.MatchTypePhoneExact, Confidence: 80}},
		{A: e, B: f, Match: Match{Matched: true, MatchType: models.MatchTypePhoneExact, Confidence: 80}},
	}

	first := groupEdges(edges)
	require.Len(t, first, 3)

	// Ties on confidence are broken by member key, so repeated runs over
	// the same edges always return components in the same order
	for i := 1; i < len(first); i++ {
		assert.Less(t, MemberKey(first[i-1].Members), MemberKey(first[i].Members))
	}
	for i := 0; i < 20; i++ {
		again := groupEdges(edges)
		require.Len(t, again, 3)
		for j := range again {
			assert.Equal(t, MemberKey(first[j].Members), MemberKey(again[j].Members))
		}
	}
}

func TestGroupEdgesEmpty(t *testing.T) {
	assert.Empty(t, groupEdges(nil))
}
