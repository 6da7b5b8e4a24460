package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tilehaven/tileserver/internal/glyphsvc"
	"github.com/tilehaven/tileserver/internal/importer"
	"github.com/tilehaven/tileserver/internal/migrate"
	"github.com/tilehaven/tileserver/internal/server"
	"github.com/tilehaven/tileserver/internal/spritesvc"
	"github.com/tilehaven/tileserver/internal/store"
	"github.com/tilehaven/tileserver/internal/stylesvc"
	"github.com/tilehaven/tileserver/internal/tilesetsvc"
	"github.com/tilehaven/tileserver/internal/tilesvc"
	"github.com/tilehaven/tileserver/internal/upstream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve tilesets, styles, sprites, and fonts over HTTP",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "127.0.0.1:8080", "Listen address (host:port)")
	serveCmd.Flags().String("sdf-dir", "./assets/sdf", "Root directory of pre-rendered glyph SDF ranges")

	mustBind := func(key, name string) {
		if err := viper.BindPFlag(key, serveCmd.Flags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag: %v", err))
		}
	}
	mustBind("serve.addr", "addr")
	mustBind("serve.sdf_dir", "sdf-dir")
}

func runServe(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	addr := viper.GetString("serve.addr")
	sdfDir := viper.GetString("serve.sdf_dir")
	dbPath := viper.GetString("db")

	st, tilesets, tiles, styles, sprites, glyphs, coord, up, err := wireServices(dbPath, sdfDir)
	if err != nil {
		return err
	}
	defer st.Close()

	srv := server.New(server.Deps{
		Store: st, Tilesets: tilesets, Tiles: tiles, Styles: styles,
		Sprites: sprites, Glyphs: glyphs, Importer: coord, Upstream: up, Logger: logger,
	})

	logger.Info("tile server listening", "addr", addr, "db", dbPath)

	httpServer := &http.Server{Addr: addr, Handler: srv.Router(), ReadHeaderTimeout: 5 * time.Second}
	return httpServer.ListenAndServe()
}

// wireServices opens the database, applies any pending migrations, and
// constructs every service in the dependency order spec.md §3 implies:
// tilesets before tiles/styles (both read tileset rows), upstream shared by
// all of them.
func wireServices(dbPath, sdfDir string) (
	*store.Store, *tilesetsvc.Service, *tilesvc.Service, *stylesvc.Service,
	*spritesvc.Service, *glyphsvc.Service, *importer.Coordinator, *upstream.Manager, error,
) {
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, nil, nil, nil, nil, nil, nil, fmt.Errorf("open store: %w", err)
	}

	if err := migrate.New(st.DB(), logger).Apply(context.Background()); err != nil {
		st.Close()
		return nil, nil, nil, nil, nil, nil, nil, nil, fmt.Errorf("apply migrations: %w", err)
	}

	if swept, err := st.SweepStaleActiveImports(context.Background()); err != nil {
		st.Close()
		return nil, nil, nil, nil, nil, nil, nil, nil, fmt.Errorf("sweep stale imports: %w", err)
	} else if len(swept) > 0 {
		logger.Warn("swept imports left active by a previous process", "importIds", swept)
	}

	up := upstream.New(nil)
	tilesets := tilesetsvc.New(st, up, logger)
	tiles := tilesvc.New(st, tilesets, up, logger)
	styles := stylesvc.New(st, tilesets, up)
	sprites := spritesvc.New(st, up)
	glyphs := glyphsvc.New(st, up, sdfDir)
	coord := importer.NewCoordinator(st, tilesets, styles, logger)

	return st, tilesets, tiles, styles, sprites, glyphs, coord, up, nil
}
