package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/andresmejia3/amdlink/internal/relay"
	"github.com/andresmejia3/amdlink/internal/utils"
	"github.com/spf13/cobra"
)

var (
	serveListen    string
	servePath      string
	serveQueueSize int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay that routes actor frames to observers",
	Run: func(cmd *cobra.Command, args []string) {
		if serveListen == "" {
			serveListen = Cfg.Server.Listen
		}
		if servePath == "" {
			servePath = Cfg.Server.Path
		}
		runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "", "Address to listen on (default: config server.listen)")
	serveCmd.Flags().StringVar(&servePath, "path", "", "Websocket endpoint path (default: config server.path)")
	serveCmd.Flags().IntVar(&serveQueueSize, "queue", relay.DefaultQueueSize, "Frames an observer may fall behind before frames are dropped")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) {
	hub := relay.NewHub(Logger)
	hub.QueueSize = serveQueueSize

	srv := &http.Server{
		Addr:              serveListen,
		Handler:           hub.Router(servePath),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	fmt.Fprintf(os.Stderr, "🛰️  Relay listening on %s%s\n", serveListen, servePath)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			utils.Die("Relay server failed", err, nil)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			Logger.Warn("relay shutdown", "error", err)
		}
	}

	s := hub.Stats()
	fmt.Fprintf(os.Stderr, "\n🏁 Relay stopped. Received %d frames, delivered %d, dropped %d, rejected %d peers.\n",
		s.Received, s.Delivered, s.Dropped, s.Rejected)
}
