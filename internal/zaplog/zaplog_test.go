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

package zaplog

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLReturnsNonNilLogger(t *testing.T) {
	require.NotNil(t, L())
}

func TestConfigureInstallsNewLogger(t *testing.T) {
	before := L()
	require.NoError(t, Configure(zap.NewDevelopmentConfig()))
	after := L()
	require.NotSame(t, before, after)
}

func TestReopenRebuildsFromLastConfig(t *testing.T) {
	require.NoError(t, Configure(zap.NewDevelopmentConfig()))
	before := L()
	require.NoError(t, Reopen())
	after := L()
	require.NotSame(t, before, after)
}
