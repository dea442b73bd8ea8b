package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ZanzyTHEbar/guild-assistant/assistant/knowledge"

	"github.com/spf13/cobra"
)

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	embedder, err := a.embedder(ctx)
	if err != nil {
		return err
	}
	db, err := a.knowledgeDB(ctx)
	if err != nil {
		return err
	}
	store := knowledge.NewStore(db, embedder, knowledge.WithLogger(a.logger))

	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		source := ingestSource
		if source == "" || len(args) > 1 {
			source = filepath.Base(path)
		}
		n, err := store.Ingest(ctx, ingestGuild, source, string(data))
		if err != nil {
			return fmt.Errorf("ingest %s: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d passages\n", source, n)
	}

	total, err := store.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "knowledge base holds %d passages\n", total)
	return nil
}
