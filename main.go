/**
This project is being made according to the documentation written in these posts:
https://1blog.jse.li/posts/torrent/
https://wiki.theory.org/BitTorrentSpecification#Metainfo_File_Structure
*/

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/tatumon/bittorrent-client/logger"
	"github.com/tatumon/bittorrent-client/src/torrents"
	"github.com/tatumon/bittorrent-client/src/torrents/handshake"
	"github.com/tatumon/bittorrent-client/src/torrents/peermgr"
)

func parseEncryptionMode(s string) (handshake.EncryptionMode, error) {
	switch s {
	case "require":
		return handshake.Required, nil
	case "prefer":
		return handshake.Preferred, nil
	case "clear":
		return handshake.ClearPreferred, nil
	default:
		return handshake.Preferred, fmt.Errorf("unknown encryption mode %q (want require|prefer|clear)", s)
	}
}

func main() {
	torrentLocation := flag.String("torrent", "", "specify the location of the .torrent file")
	encryptionFlag := flag.String("encryption", "prefer", "encryption policy for outgoing/incoming handshakes: require|prefer|clear")
	listenAddr := flag.String("listen", "", "address to accept incoming peer connections on, e.g. :6881 (disabled if empty)")
	logLevel := flag.String("log-level", "info", "log level: panic|fatal|error|warn|info|debug|trace")
	logSent := flag.Bool("log-sent", false, "log every wire message sent to peers")
	logRecv := flag.Bool("log-recv", false, "log every wire message received from peers")
	flag.Parse()

	if err := logger.SetupLoggerOpts(*logLevel, *logSent, *logRecv); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %s\n", err.Error())
		os.Exit(1)
	}

	mode, err := parseEncryptionMode(*encryptionFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err.Error())
		os.Exit(1)
	}
	torrents.EncryptionPolicy = mode

	if *torrentLocation == "" {
		fmt.Fprintf(os.Stderr, "must provide torrent file\n")
		os.Exit(1)
	}

	torr, err := torrents.TorrentFromFile(*torrentLocation)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse torrent file: %s\n", err.Error())
		os.Exit(1)
	}

	reg := torrents.NewRegistry()
	mgr := peermgr.New()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *listenAddr != "" {
		limiter := torrents.NewAcceptRateLimiter(20, 40)
		go func() {
			if err := torrents.Listen(ctx, *listenAddr, reg, mgr, mode, limiter); err != nil {
				color.New(color.FgRed).Fprintf(os.Stderr, "listener stopped: %s\n", err.Error())
			}
		}()
	}

	if err := torrents.StartDownload(torr, reg, mgr); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "download failed: %s\n", err.Error())
		os.Exit(1)
	}

	color.New(color.FgGreen).Println("download finished")
}
