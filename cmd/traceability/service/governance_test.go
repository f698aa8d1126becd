package service

import (
	"context"
	"testing"

	"github.com/duna/traceability/cmd/traceability/flowgraph"
	"github.com/duna/traceability/cmd/traceability/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validGraph is the smallest publishable graph: START -> PROCESS -> END
func validGraph() *flowgraph.Graph {
	return &flowgraph.Graph{
		Nodes: []flowgraph.Node{
			{ID: "start", Kind: flowgraph.KindStart},
			{ID: "debone", Kind: flowgraph.KindProcess, Config: &flowgraph.ProcessConfig{Station: "line-1"}},
			{ID: "end", Kind: flowgraph.KindEnd},
		},
		Edges: []flowgraph.Edge{
			{From: "start", To: "debone"},
			{From: "debone", To: "end"},
		},
	}
}

func newGovernance() (*GovernanceService, *fakeStore) {
	store := newFakeStore()
	return NewGovernanceService(store, testLogger()), store
}

func TestCreateDefinition_CreatesInitialDraft(t *testing.T) {
	svc, _ := newGovernance()
	ctx := context.Background()

	def, draft, err := svc.CreateDefinition(ctx, "yakitori-line", nil, "alice")
	require.NoError(t, err)

	assert.Equal(t, "yakitori-line", def.Name)
	assert.Equal(t, def.ID, draft.FlowDefinitionID)
	assert.Equal(t, 1, draft.VersionNum)
	assert.Equal(t, models.VersionDraft, draft.Status)
}

func TestCreateDraft_AllocatesNextVersionNum(t *testing.T) {
	svc, _ := newGovernance()
	ctx := context.Background()

	def, _, err := svc.CreateDefinition(ctx, "yakitori-line", nil, "alice")
	require.NoError(t, err)

	draft, err := svc.CreateDraft(ctx, def.ID, validGraph(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, draft.VersionNum)
	assert.Equal(t, models.VersionDraft, draft.Status)
	assert.Len(t, draft.Graph.Nodes, 3)

	// A nil graph seeds an empty draft.
	empty, err := svc.CreateDraft(ctx, def.ID, nil, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, empty.VersionNum)
	assert.Empty(t, empty.Graph.Nodes)
}

func TestSaveDraft_ReplacesGraph(t *testing.T) {
	svc, _ := newGovernance()
	ctx := context.Background()

	_, draft, err := svc.CreateDefinition(ctx, "yakitori-line", nil, "alice")
	require.NoError(t, err)

	saved, err := svc.SaveDraft(ctx, draft.ID, validGraph())
	require.NoError(t, err)
	assert.Len(t, saved.Graph.Nodes, 3)

	got, err := svc.Get(ctx, draft.ID)
	require.NoError(t, err)
	assert.Len(t, got.Graph.Nodes, 3)
}

func TestPublish_InvalidGraphRejected(t *testing.T) {
	svc, _ := newGovernance()
	ctx := context.Background()

	_, draft, err := svc.CreateDefinition(ctx, "yakitori-line", nil, "alice")
	require.NoError(t, err)

	// Empty graph has neither START nor END.
	_, _, err = svc.Publish(ctx, draft.ID, "bob")
	var invalid *models.GraphInvalidError
	require.ErrorAs(t, err, &invalid)
	assert.NotEmpty(t, invalid.Issues)

	// Nothing changed.
	got, err := svc.Get(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VersionDraft, got.Status)
}

func TestPublish_MakesVersionImmutableAndSeedsNextDraft(t *testing.T) {
	svc, _ := newGovernance()
	ctx := context.Background()

	def, draft, err := svc.CreateDefinition(ctx, "yakitori-line", nil, "alice")
	require.NoError(t, err)

	_, err = svc.SaveDraft(ctx, draft.ID, validGraph())
	require.NoError(t, err)

	published, nextDraft, err := svc.Publish(ctx, draft.ID, "bob")
	require.NoError(t, err)

	assert.Equal(t, models.VersionPublished, published.Status)
	require.NotNil(t, published.ReviewedBy)
	assert.Equal(t, "bob", *published.ReviewedBy)
	assert.NotNil(t, published.CommittedAt)

	// Next draft carries the published graph forward under version 2.
	assert.Equal(t, def.ID, nextDraft.FlowDefinitionID)
	assert.Equal(t, 2, nextDraft.VersionNum)
	assert.Equal(t, models.VersionDraft, nextDraft.Status)
	assert.Len(t, nextDraft.Graph.Nodes, 3)

	// Published graph can never be written again.
	_, err = svc.SaveDraft(ctx, published.ID, validGraph())
	var immutable *models.ImmutableVersionError
	require.ErrorAs(t, err, &immutable)
	assert.Equal(t, models.VersionPublished, immutable.Status)
}

func TestPublish_DemotesPreviousPublished(t *testing.T) {
	svc, _ := newGovernance()
	ctx := context.Background()

	_, draft, err := svc.CreateDefinition(ctx, "yakitori-line", nil, "alice")
	require.NoError(t, err)
	_, err = svc.SaveDraft(ctx, draft.ID, validGraph())
	require.NoError(t, err)

	v1, v2Draft, err := svc.Publish(ctx, draft.ID, "bob")
	require.NoError(t, err)

	v2, _, err := svc.Publish(ctx, v2Draft.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.VersionPublished, v2.Status)

	demoted, err := svc.Get(ctx, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VersionDeprecated, demoted.Status)
}

func TestRequestReview_OnlyFromDraft(t *testing.T) {
	svc, _ := newGovernance()
	ctx := context.Background()

	_, draft, err := svc.CreateDefinition(ctx, "yakitori-line", nil, "alice")
	require.NoError(t, err)

	staged, err := svc.RequestReview(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VersionReview, staged.Status)

	// Second request: no longer a draft.
	_, err = svc.RequestReview(ctx, draft.ID)
	var notDraft *models.NotDraftError
	require.ErrorAs(t, err, &notDraft)
}

func TestSaveDraft_ReviewRejected(t *testing.T) {
	svc, _ := newGovernance()
	ctx := context.Background()

	_, draft, err := svc.CreateDefinition(ctx, "yakitori-line", nil, "alice")
	require.NoError(t, err)

	_, err = svc.RequestReview(ctx, draft.ID)
	require.NoError(t, err)

	_, err = svc.SaveDraft(ctx, draft.ID, validGraph())
	var notDraft *models.NotDraftError
	require.ErrorAs(t, err, &notDraft)
}

func TestPublish_FromReview(t *testing.T) {
	svc, _ := newGovernance()
	ctx := context.Background()

	_, draft, err := svc.CreateDefinition(ctx, "yakitori-line", nil, "alice")
	require.NoError(t, err)
	_, err = svc.SaveDraft(ctx, draft.ID, validGraph())
	require.NoError(t, err)
	_, err = svc.RequestReview(ctx, draft.ID)
	require.NoError(t, err)

	published, _, err := svc.Publish(ctx, draft.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.VersionPublished, published.Status)
}

func TestDeprecate_Idempotent(t *testing.T) {
	svc, _ := newGovernance()
	ctx := context.Background()

	_, draft, err := svc.CreateDefinition(ctx, "yakitori-line", nil, "alice")
	require.NoError(t, err)

	v, err := svc.Deprecate(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VersionDeprecated, v.Status)

	v, err = svc.Deprecate(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VersionDeprecated, v.Status)
}

func TestDiffVersions(t *testing.T) {
	svc, _ := newGovernance()
	ctx := context.Background()

	_, draft, err := svc.CreateDefinition(ctx, "yakitori-line", nil, "alice")
	require.NoError(t, err)
	_, err = svc.SaveDraft(ctx, draft.ID, validGraph())
	require.NoError(t, err)

	published, nextDraft, err := svc.Publish(ctx, draft.ID, "bob")
	require.NoError(t, err)

	// Identical graphs diff to an empty merge patch.
	patch, err := svc.DiffVersions(ctx, published.ID, nextDraft.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(patch))

	changed := validGraph()
	changed.Nodes[1].Label = "deboning station"
	_, err = svc.SaveDraft(ctx, nextDraft.ID, changed)
	require.NoError(t, err)

	patch, err = svc.DiffVersions(ctx, published.ID, nextDraft.ID)
	require.NoError(t, err)
	assert.Contains(t, string(patch), "deboning station")
}
