package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"
	"github.com/urfave/cli/v3"

	"github.com/udu/livesync/pkg/config"
	logpkg "github.com/udu/livesync/pkg/log"
	"github.com/udu/livesync/pkg/relay"
)

// streamCatalog is the on-disk seed catalog served by the dev relay.
type streamCatalog struct {
	Streams []relay.Stream `toml:"streams"`
}

// ServeCommand creates the serve command: a local relay speaking the same
// websocket and REST protocol as the production backend, for development
// and end-to-end testing. The stream catalog file is watched and reloaded
// on change or SIGHUP.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run a local development relay",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Address to listen on",
				Value: ":3000",
			},
			&cli.StringFlag{
				Name:  "streams",
				Usage: "Stream catalog file (TOML); defaults to streams.toml next to the config file",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			logpkg.SetGlobalDebug(c.Bool("debug"))

			catalogPath := c.String("streams")
			if catalogPath == "" {
				configDir, err := config.GetConfigDir()
				if err != nil {
					return fmt.Errorf("resolving config dir: %w", err)
				}
				catalogPath = filepath.Join(configDir, "streams.toml")
			}
			return runRelay(ctx, c.String("listen"), catalogPath)
		},
	}
}

func runRelay(ctx context.Context, listenAddr, catalogPath string) error {
	srv := relay.NewServer()
	if err := loadCatalog(srv, catalogPath); err != nil {
		log.Printf("Warning: failed to load stream catalog: %v", err)
	}

	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	fmt.Printf("Relay listening on %s. Press Ctrl+C to stop, send SIGHUP to reload the stream catalog.\n", listenAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	var watchEvents chan fsnotify.Event
	var watchErrors chan error
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("Warning: failed to create catalog watcher: %v", err)
	} else {
		watchEvents = watcher.Events
		watchErrors = watcher.Errors
		defer func() {
			if err := watcher.Close(); err != nil {
				log.Printf("Warning: failed to close catalog watcher: %v", err)
			}
		}()
		if err := watcher.Add(catalogPath); err != nil {
			log.Printf("Warning: failed to watch catalog file %s: %v", catalogPath, err)
		} else {
			log.Printf("Watching stream catalog for changes: %s", catalogPath)
		}
	}

	shutdown := func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}

	for {
		select {
		case <-ctx.Done():
			return shutdown()
		case err := <-errCh:
			return fmt.Errorf("relay server: %w", err)
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				log.Println("Received SIGHUP, reloading stream catalog...")
				if err := loadCatalog(srv, catalogPath); err != nil {
					log.Printf("Failed to reload stream catalog: %v", err)
				} else {
					log.Println("Stream catalog reloaded")
				}
			case syscall.SIGINT, syscall.SIGTERM:
				fmt.Println("\nShutting down...")
				return shutdown()
			}
		case event, ok := <-watchEvents:
			if !ok {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				// Editors often replace files atomically; re-add the path
				// and give the new file a moment to land.
				if event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
					time.Sleep(200 * time.Millisecond)
					if _, err := os.Stat(catalogPath); os.IsNotExist(err) {
						log.Printf("Catalog file was removed and not replaced, skipping reload")
						continue
					}
					if err := watcher.Add(catalogPath); err != nil {
						log.Printf("Warning: failed to re-watch catalog file: %v", err)
					}
				} else {
					time.Sleep(100 * time.Millisecond)
				}

				log.Printf("Catalog file changed: %s, reloading...", event.Name)
				if err := loadCatalog(srv, catalogPath); err != nil {
					log.Printf("Failed to reload stream catalog: %v", err)
				} else {
					log.Println("Stream catalog reloaded")
				}
			}
		case err, ok := <-watchErrors:
			if !ok {
				continue
			}
			log.Printf("Catalog watcher error: %v", err)
		}
	}
}

func loadCatalog(srv *relay.Server, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var catalog streamCatalog
	if err := toml.Unmarshal(data, &catalog); err != nil {
		return fmt.Errorf("parsing catalog %s: %w", path, err)
	}
	for _, st := range catalog.Streams {
		srv.AddStream(st)
	}
	log.Printf("Loaded %d streams from %s", len(catalog.Streams), path)
	return nil
}
