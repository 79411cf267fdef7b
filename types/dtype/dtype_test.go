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

package dtype

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOk(t *testing.T) {
	require.False(t, Invalid.Ok())
	require.True(t, Half.Ok())
	require.True(t, Float.Ok())
	require.True(t, Double.Ok())
	require.True(t, Int32.Ok())
	require.True(t, Int64.Ok())
}

func TestSize(t *testing.T) {
	require.Equal(t, 2, Half.Size())
	require.Equal(t, 4, Float.Size())
	require.Equal(t, 8, Double.Size())
	require.Equal(t, 4, Int32.Size())
	require.Equal(t, 8, Int64.Size())
}

func TestIsFloat(t *testing.T) {
	require.True(t, Float.IsFloat())
	require.False(t, Int32.IsFloat())
}

func TestString(t *testing.T) {
	require.Equal(t, "float", Float.String())
	require.Equal(t, "unknown", DType(99).String())
}
