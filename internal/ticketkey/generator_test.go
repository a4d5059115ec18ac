// Copyright 2015 Matthew Holt and The Caddy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ticketkey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewGeneratorRejectsUnsupportedCipher(t *testing.T) {
	_, err := NewGenerator(Cipher(99))
	require.Error(t, err)
}

func TestGenerateProducesCorrectlySizedKeys(t *testing.T) {
	for _, tc := range []struct {
		cipher Cipher
		encLen int
	}{
		{AES128CBC, 16},
		{AES256CBC, 32},
	} {
		gen, err := NewGenerator(tc.cipher)
		require.NoError(t, err)

		key, err := gen.Generate()
		require.NoError(t, err)
		require.Len(t, key.EncKey, tc.encLen)
		require.Equal(t, tc.cipher, key.Cipher)
	}
}

func TestGenerateFailsOnRNGError(t *testing.T) {
	gen, err := NewGenerator(AES128CBC)
	require.NoError(t, err)
	gen.Rand = failingReader{}

	_, err = gen.Generate()
	require.ErrorIs(t, err, ErrKeyGeneration)
}

func TestGenerateProducesDistinctKeys(t *testing.T) {
	gen, err := NewGenerator(AES128CBC)
	require.NoError(t, err)

	k1, err := gen.Generate()
	require.NoError(t, err)
	k2, err := gen.Generate()
	require.NoError(t, err)

	require.NotEqual(t, k1.Name, k2.Name)
}
