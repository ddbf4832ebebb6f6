// watchd periodically diffs the tree hierarchies of two storage endpoints and
// logs every record-level difference it finds.
package main

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/textileio/cli"

	"github.com/treedex/go-treedex/buildinfo"
	"github.com/treedex/go-treedex/pkg/logging"
	"github.com/treedex/go-treedex/pkg/metrics"
	"github.com/treedex/go-treedex/pkg/replication"
	"github.com/treedex/go-treedex/pkg/storage"
)

func main() {
	config, _ := setupConfig()

	// Logging.
	logging.SetupLogger(buildinfo.GitCommit, config.Log.Debug, config.Log.Human)

	// Instrumentation.
	if err := metrics.SetupInstrumentation(":"+config.Metrics.Port, "treedex:watchd"); err != nil {
		log.Fatal().Err(err).Str("port", config.Metrics.Port).Msg("could not setup instrumentation")
	}

	interval, err := time.ParseDuration(config.Interval)
	if err != nil {
		log.Fatal().Err(err).Str("interval", config.Interval).Msg("invalid interval")
	}

	localStore, err := openEndpoint(config.Local)
	if err != nil {
		log.Fatal().Err(err).Msg("opening local endpoint")
	}
	remoteStore, err := openEndpoint(config.Remote)
	if err != nil {
		log.Fatal().Err(err).Msg("opening remote endpoint")
	}

	differ, err := replication.NewInstrumentedDiffer(replication.NewDiffer(localStore, remoteStore))
	if err != nil {
		log.Fatal().Err(err).Msg("creating differ")
	}

	watcher := &watcher{
		differ:       differ,
		databaseTree: config.DatabaseTree,
		interval:     interval,
		quit:         make(chan struct{}),
	}
	watcher.start()

	cli.HandleInterrupt(func() {
		watcher.close()
	})
}

func openEndpoint(cfg EndpointConfig) (storage.Storage, error) {
	store, err := storage.NewLocal(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("opening storage at %s: %s", cfg.Root, err)
	}
	if cfg.Compressed {
		return storage.NewCompressed(store), nil
	}
	return store, nil
}

type watcher struct {
	differ       *replication.InstrumentedDiffer
	databaseTree string
	interval     time.Duration

	quitOnce sync.Once
	quit     chan struct{}
}

func (w *watcher) start() {
	ticker := time.NewTicker(w.interval)
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := w.diff(context.Background()); err != nil {
					log.Err(err).Msg("failed to diff endpoints")
				}
			case <-w.quit:
				log.Info().Msg("quiting watcher")
				ticker.Stop()
				return
			}
		}
	}()
}

func (w *watcher) close() {
	w.quitOnce.Do(func() {
		w.quit <- struct{}{}
		close(w.quit)
	})
}

func (w *watcher) diff(ctx context.Context) error {
	var count int
	err := w.differ.DatabaseDiff(ctx, w.databaseTree,
		func(collection, _ string) string { return collection + ".tree" },
		func(collection, shard string) string { return path.Join(collection, shard+".tree") },
		func(rd replication.RecordDiff) bool {
			count++
			log.Info().
				Str("collection", rd.Collection).
				Str("shard", rd.Shard).
				Str("record", rd.Name).
				Str("side", rd.Side.String()).
				Msg("record differs")
			return true
		})
	if err != nil {
		return fmt.Errorf("database diff: %s", err)
	}
	if count == 0 {
		log.Debug().Msg("endpoints in sync")
	}
	return nil
}
