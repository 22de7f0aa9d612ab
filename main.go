package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"net/http"
	_ "net/http/pprof"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/unching-nasake/teien-seiryokuzu-sub002/api"
	"github.com/unching-nasake/teien-seiryokuzu-sub002/storage"
	"github.com/unching-nasake/teien-seiryokuzu-sub002/truntime"
)

func init() {
	go func() {
		http.ListenAndServe(":6060", nil)
	}()
}

func main() {
	var snapshotPath string
	var feedURL string
	var logPath string
	flag.StringVar(&snapshotPath, "file", "", "Snapshot file (.lz4) to import on launch")
	flag.StringVar(&snapshotPath, "f", "", "Snapshot file (.lz4) to import on launch (shorthand)")
	flag.StringVar(&feedURL, "feed", "", "Upstream feed websocket URL")
	flag.StringVar(&logPath, "log", "", "Log file path (default: data dir)")
	flag.Parse()

	// Support positional file argument so double-clicking a .lz4 passes the path through
	if snapshotPath == "" {
		if args := flag.Args(); len(args) > 0 {
			snapshotPath = args[0]
		}
	}

	setupLogging(logPath)

	cfg, err := truntime.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("bad configuration")
	}

	session, err := truntime.NewSession(cfg, nil)
	if err != nil {
		logrus.WithError(err).Fatal("session start failed")
	}
	defer session.Close()

	if snapshotPath != "" {
		importSnapshot(session, filepath.Clean(snapshotPath))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if feedURL == "" {
		logrus.Info("no feed configured, idling until interrupt")
		<-ctx.Done()
		return
	}

	feed, err := api.Dial(ctx, feedURL, session)
	if err != nil {
		logrus.WithError(err).Fatal("feed dial failed")
	}
	defer feed.Close()

	if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
		logrus.WithError(err).Error("feed terminated")
		os.Exit(1)
	}
}

func setupLogging(logPath string) {
	if logPath == "" {
		logPath = storage.DataFile("territory-map.log")
	}
	logrus.SetOutput(&lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    20, // megabytes
		MaxBackups: 3,
		MaxAge:     14, // days
	})
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// importSnapshot loads a saved snapshot file into the session. A corrupt
// or truncated file is skipped, never fatal; the grid stays sentinel-
// filled until a feed snapshot arrives.
func importSnapshot(session *truntime.Session, path string) {
	raw, err := storage.LoadSnapshotPath(path)
	if err != nil {
		logrus.WithError(err).WithField("file", path).Warn("snapshot import failed")
		return
	}
	if err := session.LoadSnapshot(raw); err != nil {
		logrus.WithError(err).WithField("file", path).Warn("snapshot rejected")
		return
	}
	logrus.WithField("file", path).Info("snapshot imported")
}

