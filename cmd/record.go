package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/andresmejia3/amdlink/internal/sensor"
	"github.com/andresmejia3/amdlink/internal/session"
	"github.com/andresmejia3/amdlink/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// RecordOptions holds the flags of the record command.
type RecordOptions struct {
	OutPath  string
	Duration time.Duration
	Sensor   sensorFlags
}

var recordOpts RecordOptions

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Capture sensor packets to a recording for later replay",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateRecordFlags(&recordOpts); err != nil {
			return err
		}
		runRecord(cmd.Context(), recordOpts)
		return nil
	},
}

func init() {
	recordCmd.Flags().StringVarP(&recordOpts.OutPath, "out", "o", "", "Recording file to write (the "+RecordingExt+" extension is appended when missing)")
	recordCmd.Flags().DurationVarP(&recordOpts.Duration, "duration", "d", 0, "Stop after this long (0 = until interrupted)")
	recordCmd.Flags().StringVar(&recordOpts.Sensor.Command, "sensor-cmd", "", "Sensor bridge executable (default: config sensor.command)")
	recordCmd.Flags().StringArrayVar(&recordOpts.Sensor.Args, "sensor-arg", nil, "Argument for the sensor bridge (repeatable)")
	recordCmd.Flags().IntVarP(&recordOpts.Sensor.FaceSources, "face-sources", "f", 0, "Number of face tracking sources (default: config sensor.face_sources)")

	recordCmd.MarkFlagRequired("out")
	rootCmd.AddCommand(recordCmd)
}

func validateRecordFlags(opts *RecordOptions) error {
	opts.Sensor.resolve()
	if opts.Sensor.Command == "" {
		return errors.New("no sensor bridge: pass --sensor-cmd <bridge> (or set sensor.command)")
	}
	if opts.Duration < 0 {
		return fmt.Errorf("duration must be >= 0, got %s", opts.Duration)
	}
	if opts.Sensor.FaceSources < 1 {
		return fmt.Errorf("face-sources must be >= 1, got %d", opts.Sensor.FaceSources)
	}
	// reset only removes files carrying the recording extension.
	if filepath.Ext(opts.OutPath) != RecordingExt {
		opts.OutPath += RecordingExt
	}
	if info, err := os.Stat(opts.OutPath); err == nil && info.IsDir() {
		return fmt.Errorf("output path %s is a directory", opts.OutPath)
	}
	return nil
}

func runRecord(ctx context.Context, opts RecordOptions) {
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	bridge, lock := startBridge(opts.Sensor)
	defer lock.Unlock()
	defer bridge.Close()

	w, err := sensor.CreateRecording(opts.OutPath)
	if err != nil {
		utils.Die("Failed to create recording", err, nil)
	}
	w.Logger = Logger

	// An offline session still binds face sources to bodies, so face frames get recorded.
	binder := session.New(offlineChannel{}, session.Options{
		FaceSources: opts.Sensor.FaceSources,
		Thresholds:  Cfg.Thresholds(),
		Binder:      bridge,
		Logger:      Logger,
	})

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("📼 Recording"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)

	runErr := bridge.Run(ctx, sensor.Tee(w, binder, progressHandler{bar: bar}))
	bar.Finish()

	if err := w.Close(); err != nil {
		utils.Die("Failed to finalize recording", err, nil)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		utils.ShowError("Sensor bridge exited", runErr, bridge.Cmd)
	}

	id, err := utils.GenerateRecordingID(opts.OutPath)
	if err != nil {
		utils.Die("Failed to identify recording", err, nil)
	}
	fmt.Fprintf(os.Stderr, "\n🏁 Recorded %d packets to %s (ID %s)\n", w.Count(), opts.OutPath, id[:12])
}
