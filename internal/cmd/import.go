package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tilehaven/tileserver/internal/store"
)

var importCmd = &cobra.Command{
	Use:   "import <mbtiles-file>",
	Short: "Import an MBTiles archive as a tileset, blocking until it completes",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().String("base-url", "http://127.0.0.1:8080", "Base URL used to build the resulting TileJSON's tile URLs")
	if err := viper.BindPFlag("import.base_url", importCmd.Flags().Lookup("base-url")); err != nil {
		panic(fmt.Sprintf("failed to bind flag: %v", err))
	}
}

func runImport(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	dbPath := viper.GetString("db")
	baseURL := viper.GetString("import.base_url")
	filePath := args[0]

	st, _, _, _, _, _, coord, _, err := wireServices(dbPath, "")
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	result, err := coord.ImportMBTiles(ctx, filePath, baseURL)
	if err != nil {
		return fmt.Errorf("import %s: %w", filePath, err)
	}

	logger.Info("import registered", "importId", result.ImportID, "tilesetId", result.Tileset.ID, "styleId", result.StyleID)

	return waitForImport(ctx, st, result.ImportID)
}

// waitForImport polls the Import row until it reaches a terminal state,
// since the CLI has no SSE client of its own (spec.md §6.2 streams progress
// to HTTP clients; a one-shot command just needs the final outcome).
func waitForImport(ctx context.Context, st *store.Store, importID string) error {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			imp, err := st.GetImport(ctx, importID)
			if err != nil {
				return fmt.Errorf("poll import %s: %w", importID, err)
			}
			switch imp.State {
			case store.ImportStateComplete:
				logger.Info("import complete", "importId", importID, "tiles", imp.ImportedResources)
				return nil
			case store.ImportStateError:
				return fmt.Errorf("import %s failed: %s", importID, imp.Error.String)
			}
		}
	}
}
