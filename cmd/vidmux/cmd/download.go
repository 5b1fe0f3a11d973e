package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/vidmux/pkg/format"
)

var downloadOutput string

var downloadCmd = &cobra.Command{
	Use:   "download <url> <format-id>",
	Short: "Download one format of a media page",
	Long: `Download one format of a media page to a file.

Video-only formats are merged with the best matching audio stream. Without
-o the file is written to the current directory under the suggested name.
Use -o - to write to stdout.`,
	Args: cobra.ExactArgs(2),
	RunE: runDownload,
}

func init() {
	downloadCmd.Flags().StringVarP(&downloadOutput, "output", "o", "", "output file (default is the suggested filename)")
	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()

	p, err := newPipeline(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	res, err := p.downloads.Download(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}

	if downloadOutput == "-" {
		_, err := cmd.OutOrStdout().Write(res.Data)
		return err
	}

	path := downloadOutput
	if path == "" {
		path = res.Filename
	}
	if err := os.WriteFile(filepath.Clean(path), res.Data, 0o644); err != nil { //nolint:gosec // user-chosen output file
		return fmt.Errorf("writing %s: %w", path, err)
	}

	logger.Info("download complete",
		slog.String("path", path),
		slog.String("size", format.Bytes(int64(len(res.Data)))),
		slog.Bool("merged", res.Merged),
		slog.String("audio_format_id", res.AudioFormatID),
	)
	return nil
}
