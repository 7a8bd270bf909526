package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/maastricht-university/edmo-mood/emotion"
	"github.com/maastricht-university/edmo-mood/frame"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <image>...",
	Short: "Classify still images and print one JSON line per file",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s := buildStack(cmd.Context(), conf, log)
		defer s.close()
		return runClassify(cmd.Context(), s, args, cmd.OutOrStdout(), os.Stderr)
	},
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}

type classifyLine struct {
	File       string              `json:"file"`
	Prediction *emotion.Prediction `json:"prediction,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// runClassify predicts each image in turn. Unreadable files are reported
// inline and do not stop the batch.
func runClassify(ctx context.Context, s *stack, paths []string, out, progress io.Writer) error {
	if err := s.detector.Initialize(ctx); err != nil {
		s.log.WithError(err).Warn("primary model unavailable, using fallback")
	}

	bar := progressbar.NewOptions(len(paths),
		progressbar.OptionSetDescription("Classifying"),
		progressbar.OptionSetWriter(progress),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	defer bar.Finish()

	enc := json.NewEncoder(out)
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := classifyLine{File: p}
		img, err := frame.OpenStillImage(p)
		if err != nil {
			line.Error = err.Error()
		} else {
			pred := s.detector.DetectWithFallback(ctx, img)
			line.Prediction = &pred
		}
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
		bar.Add(1)
	}
	return nil
}
