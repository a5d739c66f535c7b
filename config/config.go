// Package config holds the tunables of an LFS instance: the geometry used by
// mkfs, the policy knobs of the segment writer and logging.
//
// Files are TOML:
//
//	[geometry]
//	block_size   = 4096
//	frag_size    = 1024
//	segment_size = 262144
//	nsegments    = 64
//
//	[writer]
//	max_active         = 10
//	cluster_size       = 65536
//	max_outstanding_io = 16
//
//	[log]
//	level = "info"
package config

import (
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

type Geometry struct {
	BlockSize   uint64 `toml:"block_size"`
	FragSize    uint64 `toml:"frag_size"`
	SegmentSize uint64 `toml:"segment_size"`
	// 0 means one fragment
	SummarySize uint64 `toml:"summary_size"`
	NSegments   uint64 `toml:"nsegments"`
	// entries preallocated in the ifile
	NInodes    uint64 `toml:"ninodes"`
	MinFreeSeg uint64 `toml:"minfreeseg"`
}

type Writer struct {
	// segments made active since the last checkpoint before a write is
	// promoted to a checkpoint
	MaxActive        uint64 `toml:"max_active"`
	ClusterSize      uint64 `toml:"cluster_size"`
	MaxOutstandingIO uint64 `toml:"max_outstanding_io"`
	IOWorkers        int    `toml:"io_workers"`
	Interleave       uint64 `toml:"interleave"`
	WriteIndirect    bool   `toml:"write_indirect"`
	CkpRetries       int    `toml:"ckp_retries"`
	// 0 disables write-triggered segment writes
	DirtyLimit uint64 `toml:"dirty_limit"`
}

type Log struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

type Config struct {
	Geometry Geometry `toml:"geometry"`
	Writer   Writer   `toml:"writer"`
	Log      Log      `toml:"log"`
}

func Default() Config {
	return Config{
		Geometry: Geometry{
			BlockSize:   4096,
			FragSize:    1024,
			SegmentSize: 256 * 1024,
			NSegments:   64,
			NInodes:     1024,
			MinFreeSeg:  2,
		},
		Writer: Writer{
			MaxActive:        10,
			ClusterSize:      64 * 1024,
			MaxOutstandingIO: 16,
			IOWorkers:        4,
			WriteIndirect:    true,
			CkpRetries:       10,
			DirtyLimit:       4 * 1024 * 1024,
		},
		Log: Log{
			Level:      "info",
			MaxSizeMB:  64,
			MaxBackups: 3,
		},
	}
}

// Load reads path over the defaults, so a file only names what it changes.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "config %s", path)
	}
	return cfg, cfg.Validate()
}

func Decode(s string) (Config, error) {
	cfg := Default()
	if _, err := toml.Decode(s, &cfg); err != nil {
		return cfg, errors.Wrap(err, "config")
	}
	return cfg, cfg.Validate()
}

func pow2(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}

func (cfg Config) Validate() error {
	g := cfg.Geometry
	if !pow2(g.BlockSize) || !pow2(g.FragSize) {
		return errors.Errorf("block size %d and frag size %d must be powers of two",
			g.BlockSize, g.FragSize)
	}
	if g.FragSize > g.BlockSize || g.BlockSize/g.FragSize > 8 {
		return errors.Errorf("frag size %d does not divide block size %d into at most 8",
			g.FragSize, g.BlockSize)
	}
	if g.SummarySize != 0 && (g.SummarySize%g.FragSize != 0 || g.SummarySize < 512) {
		return errors.Errorf("summary size %d must be a fragment multiple of at least 512",
			g.SummarySize)
	}
	if g.SegmentSize%g.BlockSize != 0 || g.SegmentSize < 4*g.BlockSize+16384 {
		return errors.Errorf("segment size %d too small or not block aligned", g.SegmentSize)
	}
	if g.NSegments < 4 {
		return errors.Errorf("need at least 4 segments, have %d", g.NSegments)
	}
	if g.NInodes < 2 {
		return errors.Errorf("need room for at least 2 inodes, have %d", g.NInodes)
	}
	w := cfg.Writer
	if w.ClusterSize < g.BlockSize {
		return errors.Errorf("cluster size %d below block size", w.ClusterSize)
	}
	if w.MaxOutstandingIO == 0 || w.IOWorkers <= 0 {
		return errors.New("writer needs at least one outstanding I/O and one worker")
	}
	if w.CkpRetries <= 0 {
		return errors.New("ckp_retries must be positive")
	}
	return nil
}
