package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ProjectCoral/Coral/internal/config"
	"github.com/ProjectCoral/Coral/internal/permission"
)

func permsCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "perms",
		Short: "Inspect or modify Coral's permission store without starting the process",
	}
	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered permission names",
		Run: func(cmd *cobra.Command, args []string) {
			perm := openPermSystem()
			names := perm.RegisteredPerms()
			keys := make([]string, 0, len(names))
			for k := range names {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("%s - %s\n", k, names[k])
			}
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "show <user_id>",
		Short: "Show a user's grants",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			perm := openPermSystem()
			for _, g := range perm.ListUser(args[0]) {
				fmt.Printf("%s @ %s\n", g.Perm, g.Group)
			}
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "grant <perm> <user_id> [group_id]",
		Short: "Grant a permission to a user, optionally scoped to a group",
		Args:  cobra.RangeArgs(2, 3),
		Run: func(cmd *cobra.Command, args []string) {
			group := permission.ALLGroup
			if len(args) == 3 {
				group = args[2]
			}
			perm := openPermSystem()
			if err := perm.Grant(args[0], args[1], group); err != nil {
				fmt.Fprintln(os.Stderr, "grant failed:", err)
				os.Exit(1)
			}
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "revoke <perm> <user_id> [group_id]",
		Short: "Revoke a permission from a user, optionally scoped to a group",
		Args:  cobra.RangeArgs(2, 3),
		Run: func(cmd *cobra.Command, args []string) {
			group := permission.ALLGroup
			if len(args) == 3 {
				group = args[2]
			}
			perm := openPermSystem()
			if err := perm.Revoke(args[0], args[1], group); err != nil {
				fmt.Fprintln(os.Stderr, "revoke failed:", err)
				os.Exit(1)
			}
		},
	})
	return root
}

func openPermSystem() *permission.System {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}
	perm, err := permission.New(cfg.PermFile, slog.Default())
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to open permission store:", err)
		os.Exit(1)
	}
	return perm
}
