package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/kilupskalvis/artvault/internal/models"
	"github.com/spf13/cobra"
)

var (
	repoLayout   string
	repoProvider string
	repoBasedir  string
	repoTempAge  time.Duration
)

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Manage repositories",
}

var repoCreateCmd = &cobra.Command{
	Use:   "create <storage> <repository>",
	Short: "Create a repository",
	Long: `Add a repository to the config file and provision its storage root
and empty index. Fails if the repository already exists.

Examples:
  artvault repo create storage0 releases --layout maven2
  artvault repo create storage0 cache --provider redis`,
	Args: cobra.ExactArgs(2),
	Run:  runRepoCreate,
}

var repoRemoveCmd = &cobra.Command{
	Use:     "remove <storage> <repository>",
	Aliases: []string{"rm"},
	Short:   "Remove a repository and all its artifacts",
	Args:    cobra.ExactArgs(2),
	Run:     runRepoRemove,
}

var repoReindexCmd = &cobra.Command{
	Use:   "reindex <storage> <repository> [path]",
	Short: "Rebuild the index from stored artifacts",
	Long: `Walk the repository storage, checksum every artifact and replace the
index entries under path (the whole repository when omitted).`,
	Args: cobra.RangeArgs(2, 3),
	Run:  runRepoReindex,
}

var repoMergeCmd = &cobra.Command{
	Use:   "merge <src-storage> <src-repository> <dst-storage> <dst-repository>",
	Short: "Merge one repository index into another",
	Args:  cobra.ExactArgs(4),
	Run:   runRepoMerge,
}

var repoPackCmd = &cobra.Command{
	Use:   "pack <storage> <repository>",
	Short: "Compact the index and write its packed snapshot",
	Args:  cobra.ExactArgs(2),
	Run:   runRepoPack,
}

var repoGCCmd = &cobra.Command{
	Use:   "gc <storage> <repository>",
	Short: "Drop stale index entries and abandoned temp files",
	Args:  cobra.ExactArgs(2),
	Run:   runRepoGC,
}

var repoListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List configured repositories",
	Args:    cobra.NoArgs,
	Run:     runRepoList,
}

func init() {
	f := repoCreateCmd.Flags()
	f.StringVar(&repoLayout, "layout", models.LayoutRaw, "Repository layout (raw|maven2)")
	f.StringVar(&repoProvider, "provider", "", "Storage provider alias (default file-system)")
	f.StringVar(&repoBasedir, "basedir", "", "Base directory (default <data_dir>/storages/<storage>/<repository>)")

	repoGCCmd.Flags().DurationVar(&repoTempAge, "temp-age", 24*time.Hour, "Remove temp files older than this")

	repoCmd.AddCommand(repoCreateCmd, repoRemoveCmd, repoReindexCmd, repoMergeCmd, repoPackCmd, repoGCCmd, repoListCmd)
}

func runRepoCreate(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	repo, err := c.Manager.Provision(cmd.Context(), &models.Repository{
		StorageID: args[0],
		ID:        args[1],
		Basedir:   repoBasedir,
		Layout:    repoLayout,
		Provider:  repoProvider,
	})
	if err != nil {
		exitError("%v", err)
	}
	if err := c.Config.Save(); err != nil {
		// Keep config and storage consistent.
		c.Manager.RemoveRepository(context.Background(), repo.StorageID, repo.ID)
		exitError("failed to save config: %v", err)
	}

	color.New(color.FgGreen).Printf("Created repository %s\n", repo.Key())
	fmt.Printf("  provider: %s\n  layout:   %s\n  basedir:  %s\n", repo.Provider, repo.Layout, repo.Basedir)
}

func runRepoRemove(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	if err := c.Manager.Decommission(cmd.Context(), args[0], args[1]); err != nil {
		exitError("%v", err)
	}
	if err := c.Config.Save(); err != nil {
		exitError("failed to save config: %v", err)
	}
	fmt.Printf("Removed repository %s\n", models.RepositoryKey(args[0], args[1]))
}

func runRepoReindex(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	path := ""
	if len(args) == 3 {
		path = args[2]
	}
	n, err := c.Manager.ReIndex(cmd.Context(), args[0], args[1], path)
	if err != nil {
		exitError("%v", err)
	}
	color.New(color.FgGreen).Printf("Indexed %d artifact(s)", n)
	fmt.Printf(" in %s\n", models.RepositoryKey(args[0], args[1]))
}

func runRepoMerge(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	n, err := c.Manager.MergeIndexes(cmd.Context(), args[0], args[1], args[2], args[3])
	if err != nil {
		exitError("%v", err)
	}
	color.New(color.FgGreen).Printf("Merged %d entries", n)
	fmt.Printf(" from %s into %s\n", models.RepositoryKey(args[0], args[1]), models.RepositoryKey(args[2], args[3]))
}

func runRepoPack(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	res, err := c.Manager.Pack(cmd.Context(), args[0], args[1])
	if err != nil {
		exitError("%v", err)
	}
	color.New(color.FgGreen).Printf("Packed %d entries", res.Entries)
	fmt.Printf(" into %s (%d bytes)\n", res.Path, res.Bytes)
}

func runRepoGC(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	res, err := c.Manager.GarbageCollect(cmd.Context(), args[0], args[1], time.Now().Add(-repoTempAge))
	if err != nil {
		exitError("%v", err)
	}
	fmt.Printf("Scanned %d entries, ", res.EntriesScanned)
	color.New(color.FgYellow).Printf("deleted %d", res.EntriesDeleted)
	fmt.Printf(", removed %d temp file(s)\n", res.TempFilesDeleted)
}

func runRepoList(_ *cobra.Command, _ []string) {
	c := initContext()
	defer c.Close()

	repos := c.Config.Repositories()
	if len(repos) == 0 {
		fmt.Println("No repositories configured")
		return
	}

	cyan := color.New(color.FgCyan)
	for _, r := range repos {
		cyan.Printf("%-30s", r.Key())
		fmt.Printf(" %-12s %-8s %s\n", r.Provider, r.Layout, r.Basedir)
	}
}
