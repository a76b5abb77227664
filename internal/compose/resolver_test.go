package compose_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clipforge/internal/compose"
	"clipforge/internal/domain"
	"clipforge/internal/faults"
)

func strPtr(s string) *string { return &s }

func stage(id, last string) domain.Stage {
	s := domain.Stage{ID: id, ProfileID: "p1", Name: "stage-" + id}
	if last != "" {
		s.LastStage = strPtr(last)
	}
	return s
}

func mustEncode(t *testing.T, tag compose.Tag, body any) []byte {
	t.Helper()
	payload, err := compose.EncodePayload(tag, body)
	require.NoError(t, err)
	return payload
}

func TestChainOrdersStagesHeadToTail(t *testing.T) {
	// deliberately shuffled input
	stages := []domain.Stage{
		stage("c", "b"),
		stage("a", domain.FirstStage),
		stage("b", "a"),
	}
	chain, err := compose.Chain(stages)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, "a", chain[0].ID)
	assert.Equal(t, "b", chain[1].ID)
	assert.Equal(t, "c", chain[2].ID)
}

func TestChainSkipsDisconnectedStages(t *testing.T) {
	stages := []domain.Stage{
		stage("a", domain.FirstStage),
		stage("b", "a"),
		stage("orphan", ""),
	}
	chain, err := compose.Chain(stages)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, "a", chain[0].ID)
	assert.Equal(t, "b", chain[1].ID)
}

func TestChainRejectsTwoFirstStages(t *testing.T) {
	stages := []domain.Stage{
		stage("a", domain.FirstStage),
		stage("b", domain.FirstStage),
	}
	_, err := compose.Chain(stages)
	require.Error(t, err)
	assert.Equal(t, faults.Configuration, faults.ClassOf(err))
}

func TestChainRejectsFork(t *testing.T) {
	stages := []domain.Stage{
		stage("a", domain.FirstStage),
		stage("b", "a"),
		stage("c", "a"),
	}
	_, err := compose.Chain(stages)
	require.Error(t, err)
	assert.Equal(t, faults.Configuration, faults.ClassOf(err))
}

func TestChainRejectsMissingFirst(t *testing.T) {
	stages := []domain.Stage{
		stage("b", "a"),
		stage("c", "b"),
	}
	_, err := compose.Chain(stages)
	require.Error(t, err)
	assert.Equal(t, faults.Configuration, faults.ClassOf(err))
}

func TestChainDetectsCycle(t *testing.T) {
	// a second row reusing stage id "a" closes the loop a -> b -> a
	stages := []domain.Stage{
		stage("a", domain.FirstStage),
		stage("b", "a"),
		stage("a", "b"),
	}
	_, err := compose.Chain(stages)
	require.Error(t, err)
	assert.Equal(t, faults.Configuration, faults.ClassOf(err))
	assert.Contains(t, err.Error(), "cycle")
}

func TestChainEmptyGraph(t *testing.T) {
	chain, err := compose.Chain(nil)
	require.NoError(t, err)
	assert.Empty(t, chain)
}

func TestResolveAppliesLayersInOrder(t *testing.T) {
	stages := []domain.Stage{
		stage("b", "a"),
		stage("a", domain.FirstStage),
	}
	layers := map[string][]domain.Layer{
		"a": {
			{ID: "l1", StageID: "a", Order: 0, Payload: mustEncode(t, compose.TagBackground, compose.BackgroundBody{Loop: true})},
			{ID: "l2", StageID: "a", Order: 1, Payload: mustEncode(t, compose.TagCard, compose.CardBody{Section: "question"})},
		},
		"b": {
			{ID: "l3", StageID: "b", Order: 0, Payload: mustEncode(t, compose.TagWatermark, compose.WatermarkBody{Text: "cf", Opacity: 0.5})},
		},
	}
	in := compose.Inputs{
		Question:      "what is a monad",
		BackgroundRef: "bg.mp4",
		Width:         1080,
		Height:        1920,
	}
	cc, err := compose.Resolve(compose.DefaultRegistry(), stages, layers, in)
	require.NoError(t, err)
	require.Len(t, cc.Tracks, 3)
	assert.Equal(t, "background", cc.Tracks[0].Kind)
	assert.Equal(t, "card", cc.Tracks[1].Kind)
	assert.Equal(t, "what is a monad", cc.Tracks[1].Text)
	assert.Equal(t, "watermark", cc.Tracks[2].Kind)
}

func TestResolveUnknownTagIsConfigurationFault(t *testing.T) {
	stages := []domain.Stage{stage("a", domain.FirstStage)}
	layers := map[string][]domain.Layer{
		"a": {{ID: "l1", StageID: "a", Payload: mustEncode(t, compose.Tag(9), map[string]any{})}},
	}
	_, err := compose.Resolve(compose.DefaultRegistry(), stages, layers, compose.Inputs{})
	require.Error(t, err)
	assert.Equal(t, faults.Configuration, faults.ClassOf(err))
}

func TestResolveSkipsDisconnectedStageLayers(t *testing.T) {
	// the orphan stage carries a layer that would fail if applied
	stages := []domain.Stage{
		stage("a", domain.FirstStage),
		stage("orphan", ""),
	}
	layers := map[string][]domain.Layer{
		"a":      {{ID: "l1", StageID: "a", Payload: mustEncode(t, compose.TagCard, compose.CardBody{Section: "question"})}},
		"orphan": {{ID: "l2", StageID: "orphan", Payload: mustEncode(t, compose.Tag(9), map[string]any{})}},
	}
	cc, err := compose.Resolve(compose.DefaultRegistry(), stages, layers, compose.Inputs{Question: "q"})
	require.NoError(t, err)
	require.Len(t, cc.Tracks, 1)
}

func TestHandlerRejectsBodyBeforeMutating(t *testing.T) {
	stages := []domain.Stage{stage("a", domain.FirstStage)}
	layers := map[string][]domain.Layer{
		"a": {{ID: "l1", StageID: "a", Payload: mustEncode(t, compose.TagWatermark, compose.WatermarkBody{Text: "cf", Opacity: 2})}},
	}
	_, err := compose.Resolve(compose.DefaultRegistry(), stages, layers, compose.Inputs{})
	require.Error(t, err)
	assert.Equal(t, faults.Configuration, faults.ClassOf(err))
}

func TestCardHandlerSelectsSection(t *testing.T) {
	stages := []domain.Stage{stage("a", domain.FirstStage)}
	layers := map[string][]domain.Layer{
		"a": {
			{ID: "l1", StageID: "a", Payload: mustEncode(t, compose.TagCard, compose.CardBody{Section: "question"})},
			{ID: "l2", StageID: "a", Payload: mustEncode(t, compose.TagCard, compose.CardBody{Section: "answer"})},
		},
	}
	in := compose.Inputs{Question: "q text", Answer: "a text"}
	cc, err := compose.Resolve(compose.DefaultRegistry(), stages, layers, in)
	require.NoError(t, err)
	require.Len(t, cc.Tracks, 2)
	assert.Equal(t, "q text", cc.Tracks[0].Text)
	assert.Equal(t, "a text", cc.Tracks[1].Text)
}

func TestRegistryRejectsDuplicateTag(t *testing.T) {
	r := compose.DefaultRegistry()
	assert.Panics(t, func() {
		r.Register(dupHandler{})
	})
}

type dupHandler struct{}

func (dupHandler) Tag() compose.Tag { return compose.TagCard }
func (dupHandler) Apply(body []byte, in compose.Inputs, cc *compose.Context) error {
	return nil
}

func TestDecodeHeaderRejectsShortAndVersionedPayloads(t *testing.T) {
	_, _, err := compose.DecodeHeader([]byte{1})
	require.Error(t, err)
	assert.Equal(t, faults.Configuration, faults.ClassOf(err))

	payload := mustEncode(t, compose.TagVoice, compose.VoiceBody{})
	payload[0] = 0xFF
	_, _, err = compose.DecodeHeader(payload)
	require.Error(t, err)
	assert.Equal(t, faults.Configuration, faults.ClassOf(err))
}

func TestParseAspect(t *testing.T) {
	w, h, err := compose.ParseAspect("9:16")
	require.NoError(t, err)
	assert.Equal(t, 1080, w)
	assert.Equal(t, 1920, h)

	w, h, err = compose.ParseAspect("16:9")
	require.NoError(t, err)
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)

	_, _, err = compose.ParseAspect("wide")
	require.Error(t, err)
	assert.Equal(t, faults.Configuration, faults.ClassOf(err))
}
