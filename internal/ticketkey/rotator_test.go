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
	"go.uber.org/zap"
)

func TestRotatorFirstTickProducesSingleKey(t *testing.T) {
	gen, err := NewGenerator(AES128CBC)
	require.NoError(t, err)

	r := NewRotator(gen, nil, 3, zap.NewNop(), nil)
	r.Tick()

	set := r.Current()
	require.NotNil(t, set)
	require.Equal(t, 1, set.Len())
}

// TestRotatorRetentionWindow checks the retention-window shift with
// H=3: four ticks, sizes 1, 2, 3, 3; each new position-0 distinct;
// position-1 of tick k equals position-0 of tick k-1.
func TestRotatorRetentionWindow(t *testing.T) {
	gen, err := NewGenerator(AES128CBC)
	require.NoError(t, err)

	r := NewRotator(gen, nil, 3, zap.NewNop(), nil)

	wantSizes := []int{1, 2, 3, 3}
	var prevActive [NameLen]byte
	var prevSet *Set

	for i, wantSize := range wantSizes {
		r.Tick()
		set := r.Current()
		require.Equal(t, wantSize, set.Len(), "tick %d", i+1)

		active := set.Active().Name
		require.NotEqual(t, prevActive, active, "tick %d should mint a new active key", i+1)

		if prevSet != nil {
			require.Equal(t, prevSet.Active().Name, set.At(1).Name,
				"tick %d position 1 should equal previous tick's active key", i+1)
		}

		prevActive = active
		prevSet = set
	}
}

func TestRotatorKeepsPreviousSetOnGenerationFailure(t *testing.T) {
	gen, err := NewGenerator(AES128CBC)
	require.NoError(t, err)

	r := NewRotator(gen, nil, 3, zap.NewNop(), nil)
	r.Tick()
	good := r.Current()
	require.NotNil(t, good)

	gen.Rand = failingReader{}
	r.Tick()

	require.Same(t, good, r.Current(), "a failed rotation must not clear the current set")
}

type failingReader struct{}

func (failingReader) Read(p []byte) (int, error) {
	return 0, errAlwaysFails
}

var errAlwaysFails = &readError{"rng unavailable"}

type readError struct{ msg string }

func (e *readError) Error() string { return e.msg }

type publishRecorder struct {
	sets []*Set
}

func (p *publishRecorder) PublishTicketKeys(s *Set) {
	p.sets = append(p.sets, s)
}

func TestRotatorPublishesEachTick(t *testing.T) {
	gen, err := NewGenerator(AES128CBC)
	require.NoError(t, err)

	rec := &publishRecorder{}
	r := NewRotator(gen, rec, 2, zap.NewNop(), nil)

	r.Tick()
	r.Tick()
	r.Tick()

	require.Len(t, rec.sets, 3)
	require.Equal(t, 1, rec.sets[0].Len())
	require.Equal(t, 2, rec.sets[1].Len())
	require.Equal(t, 2, rec.sets[2].Len())
}
