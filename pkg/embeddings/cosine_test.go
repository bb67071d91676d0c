// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package embeddings

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{name: "identical vectors", a: []float32{1, 2, 3}, b: []float32{1, 2, 3}, want: 1.0},
		{name: "orthogonal vectors", a: []float32{1, 0, 0}, b: []float32{0, 1, 0}, want: 0.0},
		{name: "opposite vectors", a: []float32{1, 2, 3}, b: []float32{-1, -2, -3}, want: -1.0},
		{name: "zero vector", a: []float32{0, 0, 0}, b: []float32{1, 2, 3}, want: 0.0},
		// cos([1,0], [1,1]) = 1 / (1 * sqrt(2)) ≈ 0.7071
		{name: "known angle", a: []float32{1, 0}, b: []float32{1, 1}, want: 0.7071067811865476},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.InDelta(t, tc.want, CosineSimilarity(tc.a, tc.b), 1e-7)
		})
	}
}

func TestCosineDistance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{name: "identical vectors", a: []float32{1, 2, 3}, b: []float32{1, 2, 3}, want: 0.0},
		{name: "orthogonal vectors", a: []float32{1, 0, 0}, b: []float32{0, 1, 0}, want: 1.0},
		{name: "opposite vectors", a: []float32{1, 2, 3}, b: []float32{-1, -2, -3}, want: 2.0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.InDelta(t, tc.want, CosineDistance(tc.a, tc.b), 1e-7)
		})
	}
}

func TestFakeClientDeterministic(t *testing.T) {
	t.Parallel()

	fake := NewFakeClient(16)
	a, err := fake.Embed(t.Context(), "list repositories")
	require.NoError(t, err)
	b, err := fake.Embed(t.Context(), "list repositories")
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Len(t, a, 16)

	// Different texts diverge.
	c, err := fake.Embed(t.Context(), "delete repository")
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}

func TestFakeClientUnitNorm(t *testing.T) {
	t.Parallel()

	fake := NewFakeClient(32)
	vec, err := fake.Embed(t.Context(), "anything")
	require.NoError(t, err)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	require.InDelta(t, 1.0, norm, 1e-5)
}

func TestFakeClientBatchMatchesSingle(t *testing.T) {
	t.Parallel()

	fake := NewFakeClient(8)
	batch, err := fake.EmbedBatch(t.Context(), []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, batch, 2)

	single, err := fake.Embed(t.Context(), "beta")
	require.NoError(t, err)
	require.Equal(t, single, batch[1])
}
