package bmap

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-lfs/common"
)

const nindir = 1024

func TestDirect(t *testing.T) {
	for lbn := common.Lbn(0); lbn < common.NDADDR; lbn++ {
		chain, err := GetLbns(nindir, lbn)
		require.NoError(t, err)
		assert.Nil(t, chain)
	}
}

func TestSingleIndirect(t *testing.T) {
	assert := assert.New(t)
	chain, err := GetLbns(nindir, 12)
	require.NoError(t, err)
	assert.Equal([]Indir{{-12, 0}, {-12, 0}}, chain)

	chain, _ = GetLbns(nindir, 13)
	assert.Equal([]Indir{{-12, 0}, {-12, 1}}, chain)

	chain, _ = GetLbns(nindir, -12)
	assert.Equal([]Indir{{-12, 0}}, chain, "the indirect block hangs off ib[0]")
}

func TestDoubleIndirect(t *testing.T) {
	assert := assert.New(t)
	chain, _ := GetLbns(nindir, 1036)
	assert.Equal([]Indir{{-1037, 1}, {-1037, 0}, {-1036, 0}}, chain)

	chain, _ = GetLbns(nindir, 2060)
	assert.Equal([]Indir{{-1037, 1}, {-1037, 1}, {-2060, 0}}, chain)

	chain, _ = GetLbns(nindir, -1036)
	assert.Equal([]Indir{{-1037, 1}, {-1037, 0}}, chain)

	chain, _ = GetLbns(nindir, -1037)
	assert.Equal([]Indir{{-1037, 1}}, chain)
}

func TestLevel(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(0, Level(nindir, 5))
	assert.Equal(1, Level(nindir, -12))
	assert.Equal(1, Level(nindir, -1036))
	assert.Equal(1, Level(nindir, -2060))
	assert.Equal(2, Level(nindir, -1037))
	assert.Equal(3, Level(nindir, -1049614))
}

func TestTooBig(t *testing.T) {
	_, err := GetLbns(nindir, common.Lbn(MaxLbn(nindir)))
	assert.Error(t, err)
	_, err = GetLbns(nindir, common.Lbn(MaxLbn(nindir)-1))
	assert.NoError(t, err)
}

func TestChainProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)
	// a small fan-out keeps all three levels within reach
	const n = 8
	lbns := gen.Int64Range(common.NDADDR, MaxLbn(n)-1)

	properties.Property("parents are indirect blocks one level up", prop.ForAll(
		func(lbn int64) bool {
			chain, err := GetLbns(n, common.Lbn(lbn))
			if err != nil || len(chain) < 2 || chain[0].Lbn != chain[1].Lbn {
				return false
			}
			depth := len(chain) - 1
			for i := 1; i < len(chain); i++ {
				if Level(n, chain[i].Lbn) != depth-i+1 {
					return false
				}
				if chain[i].Off >= n {
					return false
				}
			}
			return chain[0].Off == uint64(depth-1)
		},
		lbns,
	))
	properties.Property("an indirect block's chain is a prefix of its child's", prop.ForAll(
		func(lbn int64) bool {
			chain, _ := GetLbns(n, common.Lbn(lbn))
			parent := chain[len(chain)-1].Lbn
			pchain, err := GetLbns(n, parent)
			if err != nil || len(pchain) != len(chain)-1 {
				return false
			}
			for i := range pchain {
				if pchain[i] != chain[i] {
					return false
				}
			}
			return true
		},
		lbns,
	))
	properties.TestingRun(t)
}
