package searchspace

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/gonas/internal/config"
	"github.com/cwbudde/gonas/internal/graph"
)

func allSpaces() []Space {
	return []Space{NewNasBench201(), NewNasBench101(), NewDarts()}
}

func TestNewUnknownSpace(t *testing.T) {
	_, err := New("nasbench301")
	assert.ErrorIs(t, err, config.ErrInvalidArgument)

	for _, name := range config.SearchSpaces {
		s, err := New(name)
		require.NoError(t, err)
		assert.Equal(t, name, s.Name())
	}
}

func TestTemplatesAreValid(t *testing.T) {
	for _, s := range allSpaces() {
		t.Run(s.Name(), func(t *testing.T) {
			assert.True(t, s.IsValid(s.Graph()))
		})
	}
}

func TestSampleIsValidAndDeterministic(t *testing.T) {
	for _, s := range allSpaces() {
		t.Run(s.Name(), func(t *testing.T) {
			a := rand.New(rand.NewSource(1))
			b := rand.New(rand.NewSource(1))
			for i := 0; i < 20; i++ {
				ga := s.Sample(a)
				gb := s.Sample(b)
				require.True(t, s.IsValid(ga), ga.String())
				assert.Equal(t, ga.String(), gb.String())
			}
		})
	}
}

func TestMutateChangesArchitecture(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	for _, s := range allSpaces() {
		t.Run(s.Name(), func(t *testing.T) {
			parent := s.Sample(rng)
			before := parent.String()
			child := s.Mutate(parent, rng)

			assert.Equal(t, before, parent.String(), "parent must be untouched")
			assert.NotEqual(t, before, child.String())
			assert.True(t, s.IsValid(child))
		})
	}
}

func TestDartsScopeIsRespected(t *testing.T) {
	s := NewDarts()
	rng := rand.New(rand.NewSource(9))
	template := s.Graph()

	for i := 0; i < 10; i++ {
		g := s.Sample(rng, "normal")
		for _, key := range template.Diff(g) {
			assert.Equal(t, "normal", g.Slots[g.SlotIndex(key)].Scope)
		}
		m := s.Mutate(g, rng, "reduce")
		for _, key := range g.Diff(m) {
			assert.Equal(t, "reduce", m.Slots[m.SlotIndex(key)].Scope)
		}
	}
}

func TestDiscretizeFromAlphas(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for _, s := range allSpaces() {
		t.Run(s.Name(), func(t *testing.T) {
			g := s.Graph().Clone()
			require.NoError(t, g.AddAlphas())
			for i := range g.Slots {
				for j := range g.Slots[i].Alpha {
					g.Slots[i].Alpha[j] = rng.NormFloat64()
				}
			}
			d := s.Discretize(g)
			assert.True(t, d.IsDiscrete())
			assert.True(t, s.IsValid(d), d.String())
			assert.False(t, g.IsDiscrete())
		})
	}
}

func TestDiscretizeZeroAlphas(t *testing.T) {
	for _, s := range allSpaces() {
		t.Run(s.Name(), func(t *testing.T) {
			g := s.Graph().Clone()
			require.NoError(t, g.AddAlphas())
			d := s.Discretize(g)
			assert.True(t, s.IsValid(d), d.String())
		})
	}
}

func TestCloneIsIndependent(t *testing.T) {
	s := NewNasBench201()
	c := s.Clone()
	require.NoError(t, c.Graph().AddAlphas())
	assert.True(t, s.Graph().IsDiscrete())
}

func TestEncodings(t *testing.T) {
	s := NewNasBench201()
	g := s.Graph()

	x, err := Encode(g, AdjacencyOneHot)
	require.NoError(t, err)
	assert.Len(t, x, 6*len(NasBench201Ops))
	sum := 0.0
	for _, v := range x {
		sum += v
	}
	assert.Equal(t, 6.0, sum)

	p, err := Encode(g, Path)
	require.NoError(t, err)
	assert.Len(t, p, PathBins)

	_, err = Encode(g, "bogus")
	assert.ErrorIs(t, err, config.ErrInvalidArgument)
}

func TestPathsNasBench201(t *testing.T) {
	g := NewNasBench201().Graph().Clone()
	// a 4-node cell with every edge active has 4 input-output paths
	assert.Len(t, Paths(g), 4)

	for i := range g.Slots {
		require.NoError(t, g.SelectByName(i, graph.OpNone))
	}
	require.NoError(t, g.SelectByName(g.SlotIndex("cell/0-3"), "skip_connect"))
	assert.Equal(t, []string{"skip_connect"}, Paths(g))
}
