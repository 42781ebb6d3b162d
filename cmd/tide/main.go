// Command tide runs a BitTorrent session from the command line.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/log"
	"github.com/mitchellh/go-homedir"
	"github.com/urfave/cli"
	"gopkg.in/yaml.v2"

	"github.com/tidebt/tide/internal/logger"
	"github.com/tidebt/tide/torrent"
)

var app = cli.NewApp()

func main() {
	app.Name = "tide"
	app.Usage = "BitTorrent session engine"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "YAML config file",
			Value: "~/.tide.yaml",
		},
		cli.BoolFlag{
			Name:  "debug, d",
			Usage: "enable debug log",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:      "download",
			Usage:     "download a torrent file or magnet link",
			ArgsUsage: "<torrent file or magnet link>",
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "seed, s",
					Usage: "continue seeding after download finishes",
				},
			},
			Action: handleDownload,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (torrent.Config, error) {
	cfg := torrent.DefaultConfig
	path, err := homedir.Expand(c.GlobalString("config"))
	if err != nil {
		return cfg, err
	}
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err = yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("cannot parse config: %w", err)
	}
	return cfg, nil
}

func handleDownload(c *cli.Context) error {
	arg := c.Args().Get(0)
	if arg == "" {
		return cli.NewExitError("give a torrent file or magnet link", 1)
	}
	if c.GlobalBool("debug") {
		logger.SetDebug()
	} else {
		logger.SetLevel(log.INFO)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ses, err := torrent.New(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = ses.Close() }()

	var t *torrent.Torrent
	if strings.HasPrefix(arg, "magnet:") {
		t, err = ses.AddMagnet(arg, torrent.AddTorrentOptions{})
	} else {
		t, err = ses.AddTorrentFile(arg, torrent.AddTorrentOptions{})
	}
	if err != nil {
		return err
	}

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			st := t.Stats()
			fmt.Printf("\r%s: %d/%d pieces, %d peers, down %d up %d        ",
				st.Status, st.PiecesHave, st.PiecesTotal, st.Peers, st.BytesDownloaded, st.BytesUploaded)
			if st.Status == torrent.StatusSeeding && !c.Bool("seed") {
				fmt.Println()
				return nil
			}
		case <-sigC:
			fmt.Println()
			return nil
		}
	}
}
