package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fanvault/pkg/archiver"
	"fanvault/pkg/mediaref"
	"fanvault/pkg/models"
	"fanvault/pkg/statusstore"
)

// exportFile is the shape of a browser-side discovery export: the item IDs
// visible for one creator, optionally with already-scraped detail attached.
type exportFile struct {
	CreatorID string       `json:"creator_id"`
	Items     []exportItem `json:"items"`
}

type exportItem struct {
	ID            string                  `json:"id"`
	ContentBlocks json.RawMessage         `json:"content_blocks,omitempty"`
	Media         map[string]mediaref.Ref `json:"media,omitempty"`
}

// exportDiscoverer serves a pre-captured export through the discovery
// interface.
type exportDiscoverer struct {
	export *exportFile
}

func (d *exportDiscoverer) DiscoverItemIDs(_ context.Context, creatorID string) ([]string, error) {
	if d.export.CreatorID != creatorID {
		return nil, fmt.Errorf("export is for creator %q, not %q", d.export.CreatorID, creatorID)
	}
	ids := make([]string, 0, len(d.export.Items))
	for _, item := range d.export.Items {
		if item.ID == "" {
			return nil, fmt.Errorf("export contains an item without an id")
		}
		ids = append(ids, item.ID)
	}
	return ids, nil
}

var importCmd = &cobra.Command{
	Use:   "import <export.json>",
	Short: "Import a discovery export into the status store",
	Long: `Import reads a JSON export captured from the browser session and records
every item it names as discovered. Exports that already carry item detail
(content blocks and media references) have it persisted too, so the archive
command can download media without re-extracting.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read export: %w", err)
		}
		var export exportFile
		if err := json.Unmarshal(data, &export); err != nil {
			return fmt.Errorf("parse export: %w", err)
		}
		if export.CreatorID == "" {
			return fmt.Errorf("export is missing creator_id")
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		client, err := newClient()
		if err != nil {
			return err
		}
		arch := archiver.New(store, client, cfg, log)

		ctx := cmd.Context()
		report, err := arch.RunDiscovery(ctx, export.CreatorID, &exportDiscoverer{export: &export})
		if err != nil {
			return err
		}

		// Attach any detail the export carried.
		detailed := 0
		for _, item := range export.Items {
			if len(item.Media) == 0 && item.ContentBlocks == nil {
				continue
			}
			patch := statusstore.Patch{ContentBlocks: item.ContentBlocks}
			if len(item.Media) > 0 {
				refs := make(models.MediaRefs, len(item.Media))
				for kind, ref := range item.Media {
					refs[models.MediaKind(kind)] = ref
				}
				patch.MediaRemoteRefs = refs
				patch.DetailsExtracted = statusstore.Ptr(true)
			}
			if _, err := store.Upsert(ctx, item.ID, patch); err != nil {
				return err
			}
			detailed++
		}

		fmt.Printf("Imported %d items for %s (%d new, %d with detail)\n",
			report.Found, export.CreatorID, report.New, detailed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}
