package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/booktile/pagestitch/internal/manifest"
	"github.com/booktile/pagestitch/internal/stitch"
	"github.com/booktile/pagestitch/pkg/tile"
)

const (
	version        = "1.0.0"
	userAgent      = "pagestitch/" + version
	defaultTimeout = 10 * time.Second
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pagestitch [page-url]",
	Short: "Download and stitch IIIF book page tiles into one image",
	Long: `pagestitch downloads the tiles of a scanned book page from an IIIF
image service and stitches them into one full-resolution image.

Given a page URL, the page's manifest is fetched to resolve the image
identifier and pixel dimensions. The image is then partitioned into a
grid of fixed-size tiles, each tile is fetched at full resolution, and
the tiles are composited into a single output file. Tiles that fail to
download leave their region blank instead of aborting the run.

Examples:
  # Stitch a page resolved through its manifest
  pagestitch "https://www.nb.no/items/0a356a65f82a3cd73soe2af76cb0a0f0?page=43"

  # Direct mode: identifier and dimensions known up front
  pagestitch --image-id URN:NBN:no-nb_digibok_2007080700052_0042 --width 3184 --height 4640

  # Cache tiles on disk and write PNG output
  pagestitch --tile-dir iiif_tiles -f png -o page.png "https://www.nb.no/items/...?page=43"

  # Parallel fetching with 8 workers
  pagestitch --workers 8 "https://www.nb.no/items/...?page=43"

  # Start HTTP server
  pagestitch serve --port 8080`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStitch,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.pagestitch.yaml)")

	// Output options
	rootCmd.Flags().StringP("output", "o", "", "output file (default: stitched_{image-id}.{format} in the output dir)")
	rootCmd.Flags().String("output-dir", ".", "directory for the output file")
	rootCmd.Flags().StringP("format", "f", "jpg", "output format (jpg|png)")
	rootCmd.Flags().Int("quality", 95, "JPEG quality (1-100)")

	// Direct mode (skips manifest resolution)
	rootCmd.Flags().String("image-id", "", "IIIF image identifier (direct mode)")
	rootCmd.Flags().Int("width", 0, "full image width in pixels (direct mode)")
	rootCmd.Flags().Int("height", 0, "full image height in pixels (direct mode)")

	// Tile options
	rootCmd.Flags().IntP("tilesize", "t", 1024, "tile size in pixels, fixed by the image service")
	rootCmd.Flags().String("tile-dir", "", "if set, cache downloaded tiles in this directory")
	rootCmd.Flags().Int("workers", 1, "parallel tile fetches (1 = sequential)")

	// HTTP options
	rootCmd.Flags().String("base-url", stitch.DefaultBaseURL, "image resolver base URL")
	rootCmd.Flags().String("manifest-url", manifest.DefaultManifestURL, "manifest URL template with {id} token")
	rootCmd.Flags().Duration("timeout", defaultTimeout, "per-tile request timeout")
	rootCmd.Flags().String("user-agent", userAgent, "HTTP User-Agent header")

	// Bind flags to viper for root command
	viper.BindPFlag("output", rootCmd.Flags().Lookup("output"))
	viper.BindPFlag("output-dir", rootCmd.Flags().Lookup("output-dir"))
	viper.BindPFlag("format", rootCmd.Flags().Lookup("format"))
	viper.BindPFlag("quality", rootCmd.Flags().Lookup("quality"))
	viper.BindPFlag("image-id", rootCmd.Flags().Lookup("image-id"))
	viper.BindPFlag("width", rootCmd.Flags().Lookup("width"))
	viper.BindPFlag("height", rootCmd.Flags().Lookup("height"))
	viper.BindPFlag("tilesize", rootCmd.Flags().Lookup("tilesize"))
	viper.BindPFlag("tile-dir", rootCmd.Flags().Lookup("tile-dir"))
	viper.BindPFlag("workers", rootCmd.Flags().Lookup("workers"))
	viper.BindPFlag("base-url", rootCmd.Flags().Lookup("base-url"))
	viper.BindPFlag("manifest-url", rootCmd.Flags().Lookup("manifest-url"))
	viper.BindPFlag("timeout", rootCmd.Flags().Lookup("timeout"))
	viper.BindPFlag("user-agent", rootCmd.Flags().Lookup("user-agent"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".pagestitch" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".pagestitch")
	}

	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func runStitch(cmd *cobra.Command, args []string) error {
	desc, err := resolveDescriptor(cmd.Context(), args)
	if err != nil {
		return err
	}

	// Parse format
	formatStr := viper.GetString("format")
	var format int
	switch formatStr {
	case "jpg", "jpeg":
		format = tile.OUTFMT_JPEG
	case "png":
		format = tile.OUTFMT_PNG
	default:
		return fmt.Errorf("unknown format: %s", formatStr)
	}

	opts := &stitch.Options{
		BaseURL:   viper.GetString("base-url"),
		TileSize:  viper.GetInt("tilesize"),
		Timeout:   viper.GetDuration("timeout"),
		UserAgent: viper.GetString("user-agent"),
		TileDir:   viper.GetString("tile-dir"),
		Workers:   viper.GetInt("workers"),
		Progress:  cmd.ErrOrStderr(),
	}

	result, err := stitch.New(opts).Stitch(cmd.Context(), desc)
	if err != nil {
		return err
	}

	// Derived once from the resolved image identifier.
	output := viper.GetString("output")
	if output == "" {
		output = filepath.Join(viper.GetString("output-dir"), stitch.OutputName(desc.ImageID, format))
	}

	if err := result.WriteFile(output, format, viper.GetInt("quality")); err != nil {
		return fmt.Errorf("failed to write output: %v", err)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Success! %d/%d tiles, output: %s\n",
		result.Succeeded(), result.Grid.Total(), output)

	if len(result.Failed) > 0 {
		for _, ft := range result.Failed {
			fmt.Fprintf(cmd.ErrOrStderr(), "  failed tile [%d,%d]: %s\n", ft.Request.Col, ft.Request.Row, ft.Err)
		}
	}

	return nil
}

// resolveDescriptor picks between manifest resolution (page URL argument)
// and direct mode (--image-id with explicit dimensions).
func resolveDescriptor(ctx context.Context, args []string) (*tile.ImageDescriptor, error) {
	imageID := viper.GetString("image-id")
	width := viper.GetInt("width")
	height := viper.GetInt("height")

	if len(args) == 1 {
		if imageID != "" || width != 0 || height != 0 {
			return nil, fmt.Errorf("provide either a page URL or --image-id/--width/--height, not both")
		}

		resolver := manifest.NewResolver(
			viper.GetString("manifest-url"),
			viper.GetString("user-agent"),
			viper.GetDuration("timeout"),
		)
		return resolver.Resolve(ctx, args[0])
	}

	if imageID == "" {
		return nil, fmt.Errorf("either a page URL argument or --image-id is required")
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("direct mode requires positive --width and --height")
	}

	return &tile.ImageDescriptor{ImageID: imageID, Width: width, Height: height}, nil
}
