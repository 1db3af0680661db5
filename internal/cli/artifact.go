package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/kilupskalvis/artvault/internal/models"
	"github.com/spf13/cobra"
)

var (
	artifactRanges []string
	artifactOutput string
)

var artifactCmd = &cobra.Command{
	Use:   "artifact",
	Short: "Store, fetch and inspect artifacts",
}

var artifactPutCmd = &cobra.Command{
	Use:   "put <storage> <repository> <path> [file]",
	Short: "Store an artifact",
	Long: `Store the contents of file (stdin when omitted or "-") at path and
record its checksums in the repository index.

Examples:
  artvault artifact put storage0 releases org/acme/app/1.0/app-1.0.jar app.jar
  tar c dir | artvault artifact put storage0 raw backups/dir.tar`,
	Args: cobra.RangeArgs(3, 4),
	Run:  runArtifactPut,
}

var artifactGetCmd = &cobra.Command{
	Use:   "get <storage> <repository> <path>",
	Short: "Fetch an artifact",
	Long: `Write an artifact to stdout or --output. Repeat --range offset:length
to fetch only those byte ranges, in ascending order.

Examples:
  artvault artifact get storage0 releases org/acme/app/1.0/app-1.0.jar -o app.jar
  artvault artifact get storage0 raw big.bin --range 0:512 --range 4096:512`,
	Args: cobra.ExactArgs(3),
	Run:  runArtifactGet,
}

var artifactStatCmd = &cobra.Command{
	Use:   "stat <storage> <repository> <path>",
	Short: "Show the index entry of an artifact",
	Args:  cobra.ExactArgs(3),
	Run:   runArtifactStat,
}

func init() {
	artifactGetCmd.Flags().StringArrayVar(&artifactRanges, "range", nil, "Byte range offset:length, repeat for multiple")
	artifactGetCmd.Flags().StringVarP(&artifactOutput, "output", "o", "", "Write to file instead of stdout")

	artifactCmd.AddCommand(artifactPutCmd, artifactGetCmd, artifactStatCmd)
}

func runArtifactPut(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	var src io.Reader = os.Stdin
	if len(args) == 4 && args[3] != "-" {
		f, err := os.Open(args[3])
		if err != nil {
			exitError("%v", err)
		}
		defer f.Close()
		src = f
	}

	entry, err := c.Manager.PutArtifact(cmd.Context(), args[0], args[1], args[2], src)
	if err != nil {
		exitError("%v", err)
	}
	color.New(color.FgGreen).Printf("Stored %s", entry.Path)
	fmt.Printf(" (%d bytes)\n", entry.Size)
	printChecksums(entry.Checksums)
}

func runArtifactGet(cmd *cobra.Command, args []string) {
	ranges, err := parseRanges(artifactRanges)
	if err != nil {
		exitError("%v", err)
	}

	c := initContext()
	defer c.Close()

	in, err := c.Manager.OpenArtifact(cmd.Context(), args[0], args[1], args[2], ranges...)
	if err != nil {
		exitError("%v", err)
	}
	defer in.Close()

	var dst io.Writer = os.Stdout
	if artifactOutput != "" {
		f, err := os.Create(artifactOutput)
		if err != nil {
			exitError("%v", err)
		}
		defer f.Close()
		dst = f
	}

	n, err := io.Copy(dst, in)
	if err != nil {
		exitError("read %s: %v", args[2], err)
	}
	c.Metrics.AddStreamBytes("in", n)

	sums, err := in.Digests()
	if err != nil {
		exitError("%v", err)
	}
	c.Logger.Info("artifact served", "path", args[2], "bytes", n, "checksums", sums)
}

func runArtifactStat(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	entry, err := c.Manager.StatArtifact(cmd.Context(), args[0], args[1], args[2])
	if err != nil {
		exitError("%v", err)
	}

	color.New(color.FgYellow).Printf("%s\n", entry.Path)
	fmt.Printf("Size:    %d\n", entry.Size)
	fmt.Printf("Indexed: %s\n", entry.IndexedAt.Local().Format("2006-01-02 15:04:05"))
	printChecksums(entry.Checksums)
}

func printChecksums(sums map[string]string) {
	names := make([]string, 0, len(sums))
	for name := range sums {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-8s %s\n", name, sums[name])
	}
}

// parseRanges parses "offset:length" flags.
func parseRanges(specs []string) ([]models.ByteRange, error) {
	ranges := make([]models.ByteRange, 0, len(specs))
	for _, spec := range specs {
		off, length, ok := strings.Cut(spec, ":")
		if !ok {
			return nil, fmt.Errorf("%w: range %q is not offset:length", models.ErrConfiguration, spec)
		}
		o, err := strconv.ParseInt(off, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: range offset %q", models.ErrConfiguration, off)
		}
		l, err := strconv.ParseInt(length, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: range length %q", models.ErrConfiguration, length)
		}
		ranges = append(ranges, models.ByteRange{Offset: o, Length: l})
	}
	return ranges, nil
}
