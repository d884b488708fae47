package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/amdlink/internal/channel"
	"github.com/andresmejia3/amdlink/internal/face"
	"github.com/andresmejia3/amdlink/internal/sensor"
	"github.com/andresmejia3/amdlink/internal/session"
	"github.com/andresmejia3/amdlink/internal/utils"
	"github.com/andresmejia3/amdlink/internal/wire"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// connectTimeout bounds how long stream waits for the relay before producing frames anyway.
const connectTimeout = 10 * time.Second

// StreamOptions holds the flags of the stream command.
type StreamOptions struct {
	Server     string
	ReplayPath string
	RecordPath string
	Speed      float64
	Loop       bool
	Sensor     sensorFlags
}

var streamOpts StreamOptions

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Stream body, posture and face state to the relay as the actor",
	Long: "Reads frames from the sensor bridge (or a recording), classifies postures, associates faces\n" +
		"with bodies and sends one JSON document per body frame to the relay.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateStreamFlags(&streamOpts); err != nil {
			return err
		}
		runStream(cmd.Context(), streamOpts)
		return nil
	},
}

func init() {
	streamCmd.Flags().StringVarP(&streamOpts.Server, "server", "s", "", "Relay websocket URL (default: config server.url)")
	streamCmd.Flags().StringVarP(&streamOpts.ReplayPath, "replay", "r", "", "Play frames from a recording instead of the sensor")
	streamCmd.Flags().StringVar(&streamOpts.RecordPath, "record", "", "Also write the sensor packets to this recording")
	streamCmd.Flags().Float64Var(&streamOpts.Speed, "speed", 1.0, "Replay speed factor (0 = as fast as possible)")
	streamCmd.Flags().BoolVar(&streamOpts.Loop, "loop", false, "Restart the recording when it ends")
	streamCmd.Flags().StringVar(&streamOpts.Sensor.Command, "sensor-cmd", "", "Sensor bridge executable (default: config sensor.command)")
	streamCmd.Flags().StringArrayVar(&streamOpts.Sensor.Args, "sensor-arg", nil, "Argument for the sensor bridge (repeatable)")
	streamCmd.Flags().IntVarP(&streamOpts.Sensor.FaceSources, "face-sources", "f", 0, "Number of face tracking sources (default: config sensor.face_sources)")

	rootCmd.AddCommand(streamCmd)
}

// validateStreamFlags ensures all CLI arguments are valid before starting the sensor.
func validateStreamFlags(opts *StreamOptions) error {
	if opts.Server == "" {
		opts.Server = Cfg.Server.URL
	}
	opts.Sensor.resolve()

	if opts.ReplayPath != "" {
		info, err := os.Stat(opts.ReplayPath)
		if err != nil {
			return fmt.Errorf("unable to access recording: %w", err)
		}
		if info.IsDir() {
			return fmt.Errorf("recording path %s is a directory", opts.ReplayPath)
		}
		if opts.RecordPath != "" {
			return errors.New("--record cannot be combined with --replay")
		}
	} else if opts.Sensor.Command == "" {
		return errors.New("no frame source: pass --replay <file> or --sensor-cmd <bridge> (or set sensor.command)")
	}
	if opts.Speed < 0 {
		return fmt.Errorf("speed must be >= 0, got %f", opts.Speed)
	}
	if opts.Sensor.FaceSources < 1 {
		return fmt.Errorf("face-sources must be >= 1, got %d", opts.Sensor.FaceSources)
	}
	return nil
}

// runStream wires producer, session and channel together and runs until the source ends or the
// user interrupts.
func runStream(ctx context.Context, opts StreamOptions) {
	// 1. Connect to the relay
	client := channel.NewClient(opts.Server, wire.RoleActor)
	client.Logger = Logger
	opened := make(chan struct{})
	var openOnce sync.Once
	client.OnOpen = func() { openOnce.Do(func() { close(opened) }) }

	clientCtx, stopClient := context.WithCancel(ctx)
	clientDone := make(chan struct{})
	go func() {
		defer close(clientDone)
		client.Run(clientCtx)
	}()

	fmt.Fprintf(os.Stderr, "📡 Connecting to %s...\n", opts.Server)
	if !waitOpen(ctx, opened, connectTimeout) && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "⚠️  Relay not reachable yet, frames are dropped until it is.\n")
	}

	// 2. Pick the producer
	var (
		producer sensor.Producer
		binder   face.Binder
		bridge   *sensor.Bridge
		bar      *progressbar.ProgressBar
	)
	if opts.ReplayPath != "" {
		total, err := sensor.CountPackets(opts.ReplayPath)
		if err != nil {
			utils.Die("Failed to read recording", err, nil)
		}
		if opts.Loop {
			total = -1
		}
		bar = progressbar.NewOptions(total,
			progressbar.OptionSetDescription("🎞️  Replaying"),
			progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
			progressbar.OptionShowCount(),
		)
		producer = &sensor.Replay{
			Path:     opts.ReplayPath,
			Speed:    opts.Speed,
			Loop:     opts.Loop,
			Mapper:   sensor.KinectV2Depth,
			Logger:   Logger,
			OnPacket: func() { bar.Add(1) },
		}
	} else {
		var lock interface{ Unlock() error }
		bridge, lock = startBridge(opts.Sensor)
		defer lock.Unlock()
		defer bridge.Close()
		producer, binder = bridge, bridge
	}

	// 3. Session: the core frame pipeline
	sess := session.New(client, session.Options{
		FaceSources: opts.Sensor.FaceSources,
		Thresholds:  Cfg.Thresholds(),
		Binder:      binder,
		Logger:      Logger,
	})

	var handler sensor.Handler = sess
	var rec *sensor.RecordingWriter
	if opts.RecordPath != "" {
		var err error
		rec, err = sensor.CreateRecording(opts.RecordPath)
		if err != nil {
			utils.Die("Failed to create recording", err, nil)
		}
		rec.Logger = Logger
		handler = sensor.Tee(rec, sess)
	}

	// 4. Run until the source ends or Ctrl+C
	start := time.Now()
	err := producer.Run(ctx, handler)

	stopClient()
	<-clientDone
	if bar != nil {
		bar.Finish()
	}
	if rec != nil {
		if cerr := rec.Close(); cerr != nil {
			utils.ShowError("Failed to finalize recording", cerr, nil)
		}
	}

	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, sensor.ErrBridgeExited):
		var cmd *utils.SafeCommand
		if bridge != nil {
			cmd = bridge.Cmd
		}
		utils.ShowError("Sensor bridge exited", err, cmd)
	default:
		utils.ShowError("Frame source failed", err, nil)
	}

	printStreamSummary(sess.Stats(), client, rec, time.Since(start))
}

func printStreamSummary(s session.Stats, client *channel.Client, rec *sensor.RecordingWriter, elapsed time.Duration) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "📊 STREAM SUMMARY (%s)\n", elapsed.Round(time.Second))
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🧍 Body Frames:        %d\n", s.BodyFrames)
	fmt.Fprintf(os.Stderr, "🙂 Face Frames:        %d\n", s.FaceFrames)
	fmt.Fprintf(os.Stderr, "📤 Sent:               %d\n", s.Sent)
	fmt.Fprintf(os.Stderr, "🛰️  Written To Relay:   %d\n", client.Sent())
	fmt.Fprintf(os.Stderr, "🚫 Dropped (offline):  %d\n", s.Dropped)
	fmt.Fprintf(os.Stderr, "⏩ Superseded:         %d\n", client.Dropped())
	fmt.Fprintf(os.Stderr, "🕳️  Empty:              %d\n", s.Empty)
	fmt.Fprintf(os.Stderr, "⚠️  Malformed:          %d\n", s.Malformed)
	if rec != nil {
		fmt.Fprintf(os.Stderr, "📼 Recorded Packets:   %d\n", rec.Count())
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}
