// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vectorindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCertaintyToCosine(t *testing.T) {
	assert.InDelta(t, 1.0, certaintyToCosine(1.0), 1e-9)
	assert.InDelta(t, 0.0, certaintyToCosine(0.5), 1e-9)
	assert.InDelta(t, -1.0, certaintyToCosine(0.0), 1e-9)
	assert.InDelta(t, 0.75, certaintyToCosine(0.875), 1e-9)
}

func TestClusterSchema(t *testing.T) {
	schema := clusterSchema()
	assert.Equal(t, ClassName, schema.Class)
	assert.Equal(t, "none", schema.Vectorizer)

	names := make(map[string]bool, len(schema.Properties))
	for _, p := range schema.Properties {
		names[p.Name] = true
	}
	assert.True(t, names["clusterId"])
	assert.True(t, names["representativeQuery"])
	assert.True(t, names["createdAt"])
}

func TestNewRejectsNilClient(t *testing.T) {
	_, err := New(nil, nil)
	require.ErrorIs(t, err, ErrNoClient)
}
