package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mit-pdos/go-lfs/config"
)

func TestMin(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(uint64(2), Min(2, 3))
	assert.Equal(uint64(2), Min(3, 2))
	assert.Equal(uint64(2), Min(2, 2))
	assert.Equal(uint64(3), Max(2, 3))
}

func TestRoundUp(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(uint64(4), RoundUp(10, 3))
	assert.Equal(uint64(3), RoundUp(9, 3), "exact division")
	assert.Equal(uint64(0), RoundUp(0, 3))
	assert.Equal(uint64(5), RoundUp(4096*4+4095, 4096))
	assert.Equal(uint64(5), RoundUp(4096*4+1, 4096), "round up by sz-1")
}

func TestSumOverflows(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(false, SumOverflows(1<<31, 1<<31))
	assert.Equal(false, SumOverflows(1<<64-2, 1))
	assert.Equal(true, SumOverflows(1, 1<<64-1))
	assert.Equal(true, SumOverflows(1<<63, 1<<63))
}

func TestLog2(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(uint64(0), Log2(1))
	assert.Equal(uint64(10), Log2(1024))
	assert.Equal(uint64(12), Log2(4096))
	assert.Equal(uint64(12), Log2(4097))
	assert.True(IsPow2(8192))
	assert.False(IsPow2(0))
	assert.False(IsPow2(3000))
}

func TestDPrintfGoesToLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	SetLogger(zap.New(core))
	defer SetLogger(zap.NewNop())

	DPrintf(1, "segment %d", 7)
	DPrintf(Debug+1, "too verbose")
	assert.Equal(t, 1, logs.Len())
	assert.Equal(t, "segment 7", logs.All()[0].Message)
}

func TestInitLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lfs.log")
	err := InitLog(config.Log{Level: "info", File: path, MaxSizeMB: 1})
	require.NoError(t, err)
	defer SetLogger(zap.NewNop())

	Logger().Info("checkpoint", zap.Int("serial", 3))
	Sync()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"serial":3`)
}

func TestInitLogBadLevel(t *testing.T) {
	assert.Error(t, InitLog(config.Log{Level: "loud"}))
}
