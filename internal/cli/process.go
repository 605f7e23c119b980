package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/snuttify/snuttify-agent/internal/export"
	"github.com/snuttify/snuttify-agent/internal/library"
	"github.com/snuttify/snuttify-agent/internal/logging"
)

var (
	processExportDir string
	processFrameRate float64
)

var processCmd = &cobra.Command{
	Use:   "process <video>",
	Short: "Process one video synchronously and print its library record",
	Long: `Run the full pipeline on a local video file without starting the server.

The finished record is printed as JSON. With --export-dir an EDL of the
snippets and an xlsx sheet are written there as well.

Examples:
  snuttify process ~/Videos/garage-sale.mp4
  snuttify process clip.mov --export-dir ./out --fps 25`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

func init() {
	processCmd.Flags().StringVar(&processExportDir, "export-dir", "", "write EDL and xlsx exports to this directory")
	processCmd.Flags().Float64Var(&processFrameRate, "fps", 30, "frame rate for EDL timecodes")
}

func runProcess(cmd *cobra.Command, args []string) error {
	source, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	info, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("open video: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", source)
	}
	exportDir := ""
	if processExportDir != "" {
		if exportDir, err = export.PrepareOutputDir(processExportDir); err != nil {
			return err
		}
	}

	a, err := openLibrary(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := a.newRunner()
	videoID := library.NewVideoID(source)
	logger.Info("processing video", "video_id", videoID, "source", logging.SanitizePath(source))

	// stage failures are already on the record; print it either way
	runErr := runner.Run(ctx, videoID, source)

	rec, err := a.store.Load(videoID)
	if err != nil {
		return fmt.Errorf("load record: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		return fmt.Errorf("print record: %w", err)
	}

	if runErr != nil {
		return runErr
	}
	if exportDir != "" {
		return writeExports(rec, exportDir, processFrameRate)
	}
	return nil
}

func writeExports(rec *library.Record, dir string, frameRate float64) error {
	stem := strings.TrimSuffix(rec.SourceName, filepath.Ext(rec.SourceName))
	title := export.SanitizeName(stem, 120)
	if title == "" {
		title = rec.VideoID
	}

	if clips := export.ClipsFromRecord(rec, rec.Source); len(clips) > 0 {
		edlPath := filepath.Join(dir, rec.VideoID+".edl")
		if err := os.WriteFile(edlPath, []byte(export.GenerateEDL(clips, title, frameRate)), 0o644); err != nil {
			return fmt.Errorf("write edl: %w", err)
		}
		logger.Info("wrote edl", "path", logging.SanitizePath(edlPath), "clips", len(clips))
	} else {
		logger.Warn("no snippets to export as edl", "video_id", rec.VideoID)
	}

	xlsxPath := filepath.Join(dir, rec.VideoID+".xlsx")
	f, err := os.Create(xlsxPath)
	if err != nil {
		return fmt.Errorf("create xlsx: %w", err)
	}
	if err := export.WriteWorkbook(f, []*library.Record{rec}); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close xlsx: %w", err)
	}
	logger.Info("wrote xlsx", "path", logging.SanitizePath(xlsxPath))
	return nil
}
