// Copyright 2025 veridiff project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash(t *testing.T) {
	sig1 := Hash([]byte("output from version 1"))
	sig2 := Hash([]byte("output from version 2"))
	assert.NotEqual(t, sig1, sig2)
	assert.Equal(t, sig1, Hash([]byte("output from version 1")))
	assert.Len(t, sig1.String(), 64)

	parsed, err := FromString(sig1.String())
	require.NoError(t, err)
	assert.Equal(t, sig1, parsed)

	_, err = FromString("not hex")
	assert.Error(t, err)
	_, err = FromString("abcd")
	assert.Error(t, err)
}
