package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/vidmux/internal/service"
	"github.com/jmylchreest/vidmux/pkg/format"
)

var formatsJSON bool

var formatsCmd = &cobra.Command{
	Use:   "formats <url>",
	Short: "List the formats of a media page",
	Long: `List the deduplicated formats of a media page.

Video-only formats are marked; downloading one merges it with the best
matching audio stream.`,
	Args: cobra.ExactArgs(1),
	RunE: runFormats,
}

func init() {
	formatsCmd.Flags().BoolVar(&formatsJSON, "json", false, "output the listing as JSON")
	rootCmd.AddCommand(formatsCmd)
}

func runFormats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	p, err := newPipeline(cmd.Context(), cfg, slog.Default())
	if err != nil {
		return err
	}
	defer p.Close()

	res, err := p.downloads.Formats(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if formatsJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	return printFormats(cmd, res)
}

func printFormats(cmd *cobra.Command, res *service.FormatsResult) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n", res.Info.Title)
	if res.Info.DurationSecs > 0 {
		fmt.Fprintf(out, "duration: %s\n", format.Duration(time.Duration(res.Info.DurationSecs)*time.Second))
	}
	fmt.Fprintln(out)

	rows := make([][]string, 0, len(res.Formats))
	for _, d := range res.Formats {
		kind := string(d.Kind)
		if d.VideoOnly() {
			kind += " (merge)"
		}
		rows = append(rows, []string{
			d.ID, kind, d.MimeType,
			deref(d.Resolution), fps(d.FrameRate), deref(d.AverageBitrate),
			strings.Join(d.Codecs, ","),
		})
	}
	_, err := fmt.Fprintln(out, renderTable(
		[]string{"ID", "TYPE", "MIME", "RESOLUTION", "FPS", "BITRATE", "CODECS"},
		rows, 4, 5,
	))
	return err
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func fps(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(*v)
}
