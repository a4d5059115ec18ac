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

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetentionHoursClampsToOne(t *testing.T) {
	for _, d := range []time.Duration{0, 30 * time.Minute, 59 * time.Minute} {
		c := Config{TLSSessionTimeout: d}
		require.Equal(t, 1, c.RetentionHours(), "duration %s should clamp to 1 hour", d)
	}
}

func TestRetentionHoursFloorsToWholeHours(t *testing.T) {
	c := Config{TLSSessionTimeout: 3*time.Hour + 45*time.Minute}
	require.Equal(t, 3, c.RetentionHours())
}

func TestUsesRemoteKeyFetcherVsFileKeys(t *testing.T) {
	withMemcached := Config{TLSTicketKeyMemcachedHost: "cache:11211"}
	require.True(t, withMemcached.UsesRemoteKeyFetcher())
	require.False(t, withMemcached.UsesFileKeys())

	withFiles := Config{TLSTicketKeyFiles: []string{"/etc/ticket1"}}
	require.False(t, withFiles.UsesRemoteKeyFetcher())
	require.True(t, withFiles.UsesFileKeys())

	neither := Config{}
	require.False(t, neither.UsesRemoteKeyFetcher())
	require.False(t, neither.UsesFileKeys())
}
