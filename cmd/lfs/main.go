// Command lfs makes, fills and inspects LFS images.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/config"
	"github.com/mit-pdos/go-lfs/disk"
	"github.com/mit-pdos/go-lfs/dumplfs"
	"github.com/mit-pdos/go-lfs/layout"
	"github.com/mit-pdos/go-lfs/lfs"
	"github.com/mit-pdos/go-lfs/util"
)

type options struct {
	config string
	image  string
	mmap   bool
	cfg    config.Config
}

func (o *options) load() error {
	cfg := config.Default()
	if o.config != "" {
		c, err := config.Load(o.config)
		if err != nil {
			return err
		}
		cfg = c
	}
	o.cfg = cfg
	return util.InitLog(cfg.Log)
}

// device opens the image; create sizes a new one from the geometry.
func (o *options) device(create bool) (disk.Device, error) {
	fsize := o.cfg.Geometry.FragSize
	var nfrags uint64
	if create {
		g := o.cfg.Geometry
		nfrags = g.NSegments * g.SegmentSize / fsize
	} else {
		st, err := os.Stat(o.image)
		if err != nil {
			return nil, errors.Wrap(err, "image")
		}
		nfrags = uint64(st.Size()) / fsize
	}
	if o.mmap {
		return disk.NewMmapDevice(o.image, nfrags, fsize)
	}
	if create {
		return disk.NewFileDevice(o.image, nfrags, fsize)
	}
	return disk.OpenFileDevice(o.image, fsize)
}

func mkfsCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "mkfs",
		Short: "Make a new filesystem on the image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := o.device(true)
			if err != nil {
				return err
			}
			defer dev.Close()
			fs, err := lfs.Format(dev, o.cfg, prometheus.NewRegistry())
			if err != nil {
				return err
			}
			return fs.Shutdown()
		},
	}
}

func writeCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "write <file>...",
		Short: "Copy host files into new inodes and checkpoint",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := o.device(false)
			if err != nil {
				return err
			}
			defer dev.Close()
			fs, err := lfs.Open(dev, o.cfg, prometheus.NewRegistry())
			if err != nil {
				return err
			}
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					fs.Shutdown()
					return err
				}
				ino, err := fs.Create(layout.IFREG | 0644)
				if err != nil {
					fs.Shutdown()
					return err
				}
				if err := fs.Write(ino, 0, data); err != nil {
					fs.Shutdown()
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: inode %d, %d bytes\n", path, ino, len(data))
			}
			return fs.Shutdown()
		},
	}
}

func catCommand(o *options) *cobra.Command {
	var ino uint32
	cmd := &cobra.Command{
		Use:   "cat",
		Short: "Print a file as of the last checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := o.device(false)
			if err != nil {
				return err
			}
			defer dev.Close()
			im, err := dumplfs.Load(dev)
			if err != nil {
				return err
			}
			data, err := im.ReadFile(common.Inum(ino))
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().Uint32Var(&ino, "ino", uint32(common.FIRST_INUM), "inode number")
	return cmd
}

func dumpCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "List the superblock and the partial segments of the log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := o.device(false)
			if err != nil {
				return err
			}
			defer dev.Close()
			return dumplfs.Dump(cmd.OutOrStdout(), dev)
		},
	}
}

func rootCommand(o *options) *cobra.Command {
	root := &cobra.Command{
		Use:           "lfs",
		Short:         "Log-structured filesystem image tool",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return o.load()
		},
	}
	root.PersistentFlags().StringVar(&o.config, "config", "", "TOML config file")
	root.PersistentFlags().StringVar(&o.image, "image", "lfs.img", "image file or device")
	root.PersistentFlags().BoolVar(&o.mmap, "mmap", false, "map the image instead of pread/pwrite")
	root.AddCommand(mkfsCommand(o), writeCommand(o), catCommand(o), dumpCommand(o))
	return root
}

func main() {
	err := rootCommand(&options{}).Execute()
	util.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "lfs:", err)
		os.Exit(1)
	}
}
