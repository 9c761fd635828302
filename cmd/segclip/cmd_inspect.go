package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"segclip/internal/clip"
	"segclip/internal/device"
	"segclip/internal/models"
)

var inspectCueWait time.Duration

var inspectCmd = &cobra.Command{
	Use:   "inspect <source>",
	Short: "Print a clip's segments, format, cue points and warp markers",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	inspectCmd.Flags().DurationVar(&inspectCueWait, "cue-wait", 2*time.Second, "How long to wait for cue points")
}

type inspectReport struct {
	State       clip.State          `json:"state"`
	Segments    []models.Segment    `json:"segments"`
	WarpMarkers []models.WarpMarker `json:"warpMarkers"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.Close()

	dev := device.NewVirtual(e.cfg.SampleRate)
	c, err := e.newClip(dev, device.NewManual())
	if err != nil {
		return err
	}
	defer c.Destroy()

	cuesReady := make(chan struct{}, 1)
	release := c.Watch(func(s clip.State) {
		if s.CuePoints != nil {
			select {
			case cuesReady <- struct{}{}:
			default:
			}
		}
	})
	defer release()

	if err := c.SetSource(context.Background(), args[0]); err != nil {
		return err
	}
	select {
	case <-cuesReady:
	case <-time.After(inspectCueWait):
		e.log.Warnf("No cue points for %s after %s", args[0], inspectCueWait)
	}

	report := inspectReport{
		State:       c.Snapshot(),
		Segments:    c.Segments(),
		WarpMarkers: c.WarpMarkers(0),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
