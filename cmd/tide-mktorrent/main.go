// Command tide-mktorrent creates .torrent files.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/tidebt/tide/internal/metainfo"
)

func main() {
	app := cli.NewApp()
	app.Name = "tide-mktorrent"
	app.Usage = "create a .torrent file"
	app.ArgsUsage = "FILE"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "m",
			Usage: "generate a merkle hash tree torrent (unsupported)",
		},
		cli.StringSliceFlag{
			Name:  "w",
			Usage: "add a web seed URL",
		},
		cli.StringSliceFlag{
			Name:  "t",
			Usage: "add a tracker URL",
		},
		cli.Int64Flag{
			Name:  "p",
			Usage: "add pad files to align files of at least this size to piece boundaries",
			Value: -1,
		},
		cli.UintFlag{
			Name:  "s",
			Usage: "piece size in bytes, must be a multiple of 16 KiB",
		},
		cli.StringFlag{
			Name:  "o",
			Usage: "output file path",
		},
	}
	app.Action = run
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	path := c.Args().Get(0)
	if path == "" {
		return cli.NewExitError("no file given", 1)
	}
	if c.Bool("m") {
		return cli.NewExitError("merkle torrents are not supported", 1)
	}
	pieceSize := uint32(c.Uint("s"))
	if pieceSize%(16*1024) != 0 {
		return cli.NewExitError("piece size must be a multiple of 16384", 1)
	}
	metainfo.Creator = "tide-mktorrent"
	info, err := metainfo.NewInfoBytes(path, metainfo.CreateOptions{
		PieceLength:  pieceSize,
		PadFileLimit: c.Int64("p"),
	})
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("cannot hash %q: %s", path, err), 1)
	}
	var trackers [][]string
	for _, u := range c.StringSlice("t") {
		trackers = append(trackers, []string{u})
	}
	out, err := metainfo.NewBytes(info, trackers, c.StringSlice("w"), "")
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	outPath := c.String("o")
	if outPath == "" {
		outPath = path + ".torrent"
	}
	if err := os.WriteFile(outPath, out, 0644); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	fmt.Println(outPath)
	return nil
}
