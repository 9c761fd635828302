package main

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/spf13/cobra"

	"segclip/internal/audio"
	"segclip/internal/clip"
	"segclip/internal/device"
)

var (
	playAt       float64
	playOffset   float64
	playDuration float64
)

var playCmd = &cobra.Command{
	Use:   "play <source> <out.wav>",
	Short: "Simulate scheduled playback on a virtual device and record the output",
	Long: `Play starts the clip on a virtual device and steps its clock tick by tick,
so segments are loaded, started and evicted by the window scheduler exactly as
they would be live. The device output is then written as 16-bit WAV.`,
	Args: cobra.ExactArgs(2),
	RunE: runPlay,
}

func init() {
	playCmd.Flags().Float64Var(&playAt, "at", 0, "Device time to start playback at")
	playCmd.Flags().Float64Var(&playOffset, "offset", 0, "Start of the range in seconds of the trimmed clip")
	playCmd.Flags().Float64Var(&playDuration, "duration", 0, "Length of the range in seconds (0 = to the end)")
}

func runPlay(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.Close()

	dev := device.NewVirtual(e.cfg.SampleRate)
	drv := device.NewManual()
	c, err := e.newClip(dev, drv)
	if err != nil {
		return err
	}
	defer c.Destroy()

	if err := c.SetSource(context.Background(), args[0]); err != nil {
		return err
	}
	duration := playDuration
	if duration <= 0 {
		duration = clip.Remaining
	}
	if c.Start(playAt, playOffset, duration) == 0 {
		return fmt.Errorf("range [%v, +%v) of %s is empty", playOffset, duration, args[0])
	}

	var end float64
	for _, item := range c.Items() {
		end = math.Max(end, item.ScheduledAt+item.To-item.From)
	}

	step := e.cfg.TickInterval.Seconds()
	lookahead := e.cfg.Lookahead.Seconds()
	last := end + e.cfg.PreloadMargin + lookahead
	for i := 0; ; i++ {
		t := float64(i) * step
		if t > last {
			break
		}
		dev.SetTime(t)
		drv.Tick(audio.Window{Start: t, Length: lookahead})
		if err := waitIdle(c, e.cfg.LoadTimeout); err != nil {
			return err
		}
	}
	if n := len(c.Items()); n > 0 {
		e.log.Warnf("%d items still queued after playback", n)
	}

	channels := c.Format().Channels
	if channels > 2 {
		channels = 2
	}
	out := dev.Render(0, end, channels)
	if err := writeWAV(args[1], out); err != nil {
		return err
	}
	e.log.Infof("Played %.3fs of %s through %d players to %s", end-playAt, args[0], len(dev.Players()), args[1])
	return nil
}

// waitIdle blocks until no load is in flight, so the simulated clock never
// runs ahead of the loader.
func waitIdle(c *clip.Clip, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for c.Loading() {
		if time.Now().After(deadline) {
			return fmt.Errorf("loads still in flight after %s", timeout)
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}
