package cmd

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/amdlink/internal/channel"
	"github.com/andresmejia3/amdlink/internal/history"
	"github.com/andresmejia3/amdlink/internal/posture"
	"github.com/andresmejia3/amdlink/internal/store"
	"github.com/andresmejia3/amdlink/internal/utils"
	"github.com/andresmejia3/amdlink/internal/wire"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// ObserveOptions holds the flags of the observe command.
type ObserveOptions struct {
	Server       string
	Duration     time.Duration
	GracePeriod  string
	BlipDuration string

	grace time.Duration
	blip  time.Duration
}

var observeOpts ObserveOptions

var observeCmd = &cobra.Command{
	Use:   "observe",
	Short: "Watch the actor's postures as an observer",
	Long: "Connects to the relay as an observer, prints posture changes per body and, when a\n" +
		"database is configured, records posture intervals.",
	Annotations: map[string]string{dbAnnotation: dbOptional},
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateObserveFlags(&observeOpts); err != nil {
			return err
		}
		runObserve(cmd.Context(), observeOpts)
		return nil
	},
}

func init() {
	observeCmd.Flags().StringVarP(&observeOpts.Server, "server", "s", "", "Relay websocket URL (default: config server.url)")
	observeCmd.Flags().DurationVarP(&observeOpts.Duration, "duration", "d", 0, "Stop after this long (0 = until interrupted)")
	observeCmd.Flags().StringVarP(&observeOpts.GracePeriod, "grace-period", "g", "", "The longest period a body can be missing before its posture run is closed (default: config history.grace_period)")
	observeCmd.Flags().StringVarP(&observeOpts.BlipDuration, "blip-duration", "b", "", "Minimum duration of a posture run to be kept (default: config history.blip_duration)")

	rootCmd.AddCommand(observeCmd)
}

func validateObserveFlags(opts *ObserveOptions) error {
	if opts.Server == "" {
		opts.Server = Cfg.Server.URL
	}
	var err error
	opts.grace = Cfg.GracePeriod()
	if opts.GracePeriod != "" {
		if opts.grace, err = time.ParseDuration(opts.GracePeriod); err != nil {
			return fmt.Errorf("invalid grace-period format (use '2s', '500ms'): %w", err)
		}
	}
	opts.blip = Cfg.BlipDuration()
	if opts.BlipDuration != "" {
		if opts.blip, err = time.ParseDuration(opts.BlipDuration); err != nil {
			return fmt.Errorf("invalid blip-duration format (use '2s', '500ms'): %w", err)
		}
	}
	if opts.Duration < 0 {
		return fmt.Errorf("duration must be >= 0, got %s", opts.Duration)
	}
	return nil
}

// storeSink writes closed posture runs for one observer session.
type storeSink struct {
	db        *store.Store
	sessionID string
}

func (s storeSink) Record(ctx context.Context, iv history.Interval) error {
	return s.db.InsertInterval(ctx, s.sessionID, iv.BodyID, int(iv.Posture), iv.Start, iv.End, iv.Frames)
}

func runObserve(ctx context.Context, opts ObserveOptions) {
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	// 1. Persistence is optional
	var sink history.Sink
	sessionID := uuid.NewString()
	if DB != nil {
		if err := DB.CreateSession(ctx, sessionID, string(wire.RoleObserver), opts.Server); err != nil {
			utils.Die("Failed to register observer session", err, nil)
		}
		sink = storeSink{db: DB, sessionID: sessionID}
		fmt.Fprintf(os.Stderr, "🗄️  Recording posture intervals (session %s)\n", sessionID[:8])
	}

	rec := history.NewRecorder(opts.grace, opts.blip, sink)
	rec.OnChange = func(bodyID string, p posture.Label, at time.Time) {
		fmt.Printf("%s  body %s  %s\n", at.Format("15:04:05.000"), bodyID, p)
	}

	// 2. Feed every received frame into the recorder
	var frames, malformed atomic.Uint64
	client := channel.NewClient(opts.Server, wire.RoleObserver)
	client.Logger = Logger
	client.OnOpen = func() {
		fmt.Fprintf(os.Stderr, "👀 Observing %s\n", opts.Server)
	}
	client.OnMessage = func(data []byte) {
		frame, err := wire.Decode(data)
		if err != nil {
			malformed.Add(1)
			Logger.Debug("skipping malformed frame", "error", err)
			return
		}
		frames.Add(1)
		if err := rec.Observe(ctx, frame, time.Now()); err != nil {
			Logger.Warn("failed to persist posture interval", "error", err)
		}
	}

	fmt.Fprintf(os.Stderr, "📡 Connecting to %s...\n", opts.Server)
	client.Run(ctx)

	// 3. Close every open run. The main context may be cancelled already.
	open := rec.Open()
	if err := rec.Flush(context.Background()); err != nil {
		utils.ShowError("Failed to persist final posture intervals", err, nil)
	}

	printObserveSummary(rec, open, frames.Load(), malformed.Load())
}

func printObserveSummary(rec *history.Recorder, open int, frames, malformed uint64) {
	intervals, discarded := rec.Summary()

	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "📊 OBSERVE SUMMARY\n")
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")

	last := ""
	for _, iv := range intervals {
		if iv.BodyID != last {
			fmt.Fprintf(os.Stderr, "\n🧍 Body %s\n", iv.BodyID)
			last = iv.BodyID
		}
		fmt.Fprintf(os.Stderr, "   %-16s %s -> %s (%d frames)\n", iv.Posture, iv.Start.Format("15:04:05"), iv.End.Format("15:04:05"), iv.Frames)
	}

	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "📥 Frames Received:   %d\n", frames)
	fmt.Fprintf(os.Stderr, "⚠️  Malformed:         %d\n", malformed)
	fmt.Fprintf(os.Stderr, "🫥 Blips Discarded:   %d\n", discarded)
	fmt.Fprintf(os.Stderr, "🧍 Tracked At Exit:   %d\n", open)
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}
