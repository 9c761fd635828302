package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"segclip/internal/bufferstore"
	"segclip/internal/clip"
	"segclip/internal/device"
	"segclip/internal/models"
)

var (
	renderOffset   float64
	renderDuration float64
)

var renderCmd = &cobra.Command{
	Use:   "render <source> <out.wav>",
	Short: "Extract a range of a clip offline into a WAV file",
	Long: `Render pulls every segment covering the range straight from the buffer
store, without scheduling, and writes them back to back as 16-bit WAV.`,
	Args: cobra.ExactArgs(2),
	RunE: runRender,
}

func init() {
	renderCmd.Flags().Float64Var(&renderOffset, "offset", 0, "Start of the range in seconds of the trimmed clip")
	renderCmd.Flags().Float64Var(&renderDuration, "duration", 0, "Length of the range in seconds (0 = to the end)")
}

func runRender(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.Close()

	c, err := e.newClip(device.NewVirtual(e.cfg.SampleRate), device.NewManual())
	if err != nil {
		return err
	}
	defer c.Destroy()

	ctx := context.Background()
	if err := c.SetSource(ctx, args[0]); err != nil {
		return err
	}

	duration := renderDuration
	if duration <= 0 {
		duration = clip.Remaining
	}
	out, err := concat(ctx, c.Pull(renderOffset, duration))
	if err != nil {
		return err
	}
	if out == nil {
		return fmt.Errorf("range [%v, +%v) of %s is empty", renderOffset, duration, args[0])
	}
	if err := writeWAV(args[1], out); err != nil {
		return err
	}
	e.log.Infof("Rendered %.3fs of %s to %s", out.Duration(), args[0], args[1])
	return nil
}

// concat joins every pulled chunk into one buffer. All chunks must share the
// first chunk's rate and channel count.
func concat(ctx context.Context, p *clip.Puller) (*models.Buffer, error) {
	var out *models.Buffer
	for {
		chunk, err := p.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		buf := chunk.Buffer()
		if out == nil {
			out = buf
			continue
		}
		if buf.SampleRate != out.SampleRate || buf.NumChannels() != out.NumChannels() {
			return nil, fmt.Errorf("segment %s is %vHz/%dch, expected %vHz/%dch",
				chunk.Range.Src, buf.SampleRate, buf.NumChannels(), out.SampleRate, out.NumChannels())
		}
		for ch := range out.Channels {
			out.Channels[ch] = append(out.Channels[ch], buf.Channels[ch]...)
		}
	}
}

func writeWAV(path string, buf *models.Buffer) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := bufferstore.EncodeWAV(f, buf); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
