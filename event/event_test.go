//
// Copyright (C) 2025 Canopy Authors. All rights reserved.
//
// canopy is licensed under the Apache License Version 2.0.
//
//

package event

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/canopyai/canopy/model"
)

func TestKindTerminal(t *testing.T) {
	terminal := []Kind{KindStop, KindError, KindTimeout, KindAgentEnd}
	for _, k := range terminal {
		require.True(t, k.Terminal(), "kind %s", k)
	}
	nonTerminal := []Kind{
		KindLongTermMemoryRecall, KindAgentThought, KindAgentMessage,
		KindAgentAction, KindDatasetRetrieval, KindPing,
	}
	for _, k := range nonTerminal {
		require.False(t, k.Terminal(), "kind %s", k)
	}
}

func TestNewGeneratesID(t *testing.T) {
	a := New("task-1", KindAgentMessage)
	b := New("task-1", KindAgentMessage)
	require.NotEmpty(t, a.ID)
	require.NotEqual(t, a.ID, b.ID)
	require.Equal(t, "task-1", a.TaskID)
	require.Equal(t, KindAgentMessage, a.Kind)
}

func TestNewError(t *testing.T) {
	e := NewError("task-1", errors.New("model unavailable"))
	require.Equal(t, KindError, e.Kind)
	require.Equal(t, "model unavailable", e.Observation)
	require.True(t, e.Kind.Terminal())
}

func TestMergeConcatenates(t *testing.T) {
	prompt := []model.Message{model.NewUserMessage("hi")}
	base := New("t", KindAgentMessage,
		WithID("m1"), WithThought("th"), WithAnswer("Hel"), WithMessage(prompt))
	base.Merge(New("t", KindAgentMessage,
		WithID("m1"), WithThought("ought"), WithAnswer("lo"), WithLatency(1.5)))

	require.Equal(t, "thought", base.Thought)
	require.Equal(t, "Hello", base.Answer)
	require.Equal(t, prompt, base.Message)
	require.Equal(t, 1.5, base.Latency)
}

func TestMergeKeepsFirstMessageSnapshot(t *testing.T) {
	first := []model.Message{model.NewUserMessage("one")}
	second := []model.Message{model.NewUserMessage("two")}
	base := New("t", KindAgentMessage, WithMessage(first))
	base.Merge(New("t", KindAgentMessage, WithMessage(second)))
	require.Equal(t, first, base.Message)
}

func TestMergeIdempotentUnderEmptyDelta(t *testing.T) {
	base := New("t", KindAgentMessage,
		WithAnswer("done"), WithLatency(2.0),
		WithUsage(&model.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}))
	snapshot := *base

	base.Merge(New("t", KindAgentMessage))

	require.Equal(t, snapshot.Answer, base.Answer)
	require.Equal(t, snapshot.Latency, base.Latency)
	require.Equal(t, snapshot.MessageTokenCount, base.MessageTokenCount)
	require.Equal(t, snapshot.AnswerTokenCount, base.AnswerTokenCount)
	require.Equal(t, snapshot.TotalTokenCount, base.TotalTokenCount)
}

func TestMergeReplacesCounters(t *testing.T) {
	base := New("t", KindAgentMessage, WithAnswer("a"))
	base.Merge(New("t", KindAgentMessage,
		WithUsage(&model.Usage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10})))
	require.Equal(t, 7, base.MessageTokenCount)
	require.Equal(t, 3, base.AnswerTokenCount)
	require.Equal(t, 10, base.TotalTokenCount)
}
