package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/smazurov/framecast/internal/capture"
)

// CreateCamerasCmd creates the cameras command.
func CreateCamerasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cameras",
		Short: "List video capture devices and their indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cameras, err := capture.ListCameras()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(cameras) == 0 {
				_, err = fmt.Fprintln(out, "no cameras found")
				return err
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "INDEX\tDEVICE\tNAME")
			for _, c := range cameras {
				fmt.Fprintf(w, "%d\t%s\t%s\n", c.Index, c.DevicePath, c.DeviceName)
			}
			return w.Flush()
		},
	}
}
