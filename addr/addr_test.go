package addr

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mit-pdos/go-lfs/common"
)

func TestFlatidDistinct(t *testing.T) {
	assert := assert.New(t)
	seen := make(map[uint64]Addr)
	for _, ino := range []common.Inum{0, 1, 2, 1 << 20} {
		for _, lbn := range []common.Lbn{0, 1, 11, -12, -1037, 1 << 30} {
			a := MkAddr(ino, lbn)
			prev, ok := seen[a.Flatid()]
			assert.False(ok, "%v collides with %v", a, prev)
			seen[a.Flatid()] = a
		}
	}
	assert.True(MkDevAddr(40).IsDev())
	assert.False(MkAddr(3, 0).IsDev())
	assert.Equal("3:-12", MkAddr(3, -12).String())
}
