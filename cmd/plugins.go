package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ProjectCoral/Coral/internal/bootstrap"
	"github.com/ProjectCoral/Coral/internal/pluginmanager"
)

func pluginsCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "plugins",
		Short: "Discover and inspect Coral's compiled-in plugins without starting the process",
	}
	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every discovered plugin and its state",
		Run: func(cmd *cobra.Command, args []string) {
			mgr := discoverPlugins()
			entries := mgr.Entries()
			sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
			for _, e := range entries {
				fmt.Printf("%s v%s [%s]\n", e.Name, e.Meta.Version, e.State)
			}
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "load",
		Short: "Load every discovered, non-disabled plugin in dependency order",
		Run: func(cmd *cobra.Command, args []string) {
			mgr := discoverPlugins()
			ctx := context.Background()
			if err := mgr.LoadAll(ctx); err != nil {
				fmt.Fprintln(os.Stderr, "load failed:", err)
				os.Exit(1)
			}
			for _, e := range mgr.Entries() {
				fmt.Printf("%s: %s\n", e.Name, e.State)
			}
		},
	})
	return root
}

func discoverPlugins() *pluginmanager.Manager {
	app, err := bootstrap.New(resolveConfigPath(), slog.Default())
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize coral:", err)
		os.Exit(1)
	}
	app.Plugins.Discover()
	return app.Plugins
}
