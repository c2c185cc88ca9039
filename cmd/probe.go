package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/framecast/internal/capture"
	"github.com/smazurov/framecast/internal/ffmpeg"
)

// CreateProbeCmd creates the probe command.
func CreateProbeCmd() *cobra.Command {
	var ffprobeBinary string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "probe <source>",
		Short: "Print the frame size of a camera or file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, err := capture.ParseDescriptor(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			width, height, err := capture.Probe(ctx, ffprobeBinary, desc)
			if err != nil {
				return fmt.Errorf("probe %s: %w", desc, err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%dx%d\n", desc, width, height)
			return err
		},
	}

	cmd.Flags().StringVar(&ffprobeBinary, "ffprobe-binary", ffmpeg.DefaultFFprobeBinary, "ffprobe binary")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Probe timeout")
	return cmd
}
