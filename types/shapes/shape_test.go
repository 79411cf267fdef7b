/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package shapes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexflow/flexflow/types/dtype"
)

func TestMake(t *testing.T) {
	s := Make(dtype.Float, 64, 128)
	require.Equal(t, 2, s.Rank())
	require.Equal(t, 64, s.Dim(0))
	require.Equal(t, 128, s.Dim(-1))
	require.Equal(t, 64*128, s.Size())
}

func TestMakePanicsOnBadDims(t *testing.T) {
	assert.Panics(t, func() { Make(dtype.Float, 0) })
	assert.Panics(t, func() { Make(dtype.Float, -1) })
	assert.Panics(t, func() { Make(dtype.Invalid, 1) })
}

func TestShapeEqual(t *testing.T) {
	a := Make(dtype.Float, 4, 3)
	b := Make(dtype.Float, 4, 3)
	c := Make(dtype.Float, 3, 4)
	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
}

func TestCheckDims(t *testing.T) {
	s := Make(dtype.Float, 64, 128)
	require.NoError(t, s.CheckDims(64, 128))
	require.NoError(t, s.CheckDims(UncheckedAxis, 128))
	require.Error(t, s.CheckDims(64, 1))
	require.Error(t, s.CheckDims(64))
}
