package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/spf13/cobra"

	"github.com/nvstream/gfn-client/internal/config"
	"github.com/nvstream/gfn-client/internal/core"
	"github.com/nvstream/gfn-client/internal/errs"
	"github.com/nvstream/gfn-client/internal/logging"
	"github.com/nvstream/gfn-client/internal/session"
)

var (
	version = "0.1.0"
	cfgFile string
	logFile string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "gfn-client",
	Short: "GeForce NOW streaming client core",
	Long:  `gfn-client drives the GFN signaling/WebRTC/input pipeline from the command line.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("gfn-client v%s\n", version)
	},
}

var runOpts struct {
	appID          uint32
	storeType      string
	storeID        string
	preferredHost  string
	width          int
	height         int
	fps            int
	codec          string
	maxBitrateMbps float64
	reflex         bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a streaming session and block until it ends",
	Run: func(cmd *cobra.Command, args []string) {
		runStream()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.config/gfn-client/gfn-client.yaml)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "mirror logs to a size-rotated file in addition to stdout")

	runCmd.Flags().Uint32Var(&runOpts.appID, "app-id", 0, "GFN game app id (required)")
	runCmd.Flags().StringVar(&runOpts.storeType, "store-type", "NVIDIA", "storefront identifier the title is owned on")
	runCmd.Flags().StringVar(&runOpts.storeID, "store-id", "", "storefront product id")
	runCmd.Flags().StringVar(&runOpts.preferredHost, "preferred-server", "", "preferred edge server hint")
	runCmd.Flags().IntVar(&runOpts.width, "width", 1920, "stream viewport width")
	runCmd.Flags().IntVar(&runOpts.height, "height", 1080, "stream viewport height")
	runCmd.Flags().IntVar(&runOpts.fps, "fps", 60, "target frame rate (60, 120, or 240)")
	runCmd.Flags().StringVar(&runOpts.codec, "codec", "h264", "video codec: h264, h265, vp8, vp9")
	runCmd.Flags().Float64Var(&runOpts.maxBitrateMbps, "max-bitrate-mbps", 40, "maximum encode bitrate in Mbps")
	runCmd.Flags().BoolVar(&runOpts.reflex, "reflex", true, "request NVIDIA Reflex low-latency rendering")
	runCmd.MarkFlagRequired("app-id")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initLogging(cfg *config.Config) {
	var output io.Writer = os.Stdout
	logFileFallback := false
	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v (logging to stdout only)\n", cfg.LogFile, err)
			logFileFallback = true
		} else {
			output = logging.TeeWriter(os.Stdout, rw)
			logging.SetActiveRotator(rw)
		}
	}

	logging.Init(cfg.LogFormat, cfg.LogLevel, output)
	log = logging.L("main")
	if logFileFallback {
		log.Warn("log file fallback active, logging to stdout only", "requestedFile", cfg.LogFile)
	}
}

func iceServersFromConfig(cfg *config.Config) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(cfg.ICEServers))
	for _, urls := range cfg.ICEServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{urls}})
	}
	return servers
}

// runStream wires config, the streaming core, and observers, then blocks
// until the session ends or a signal arrives: load config, build
// components bottom-up, start, run until cancellation, shut down.
func runStream() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if logFile != "" {
		cfg.LogFile = logFile
	}
	initLogging(cfg)

	if cfg.AuthToken == "" {
		fmt.Fprintln(os.Stderr, "no auth token configured; set auth_token in config or GFN_AUTH_TOKEN")
		os.Exit(1)
	}
	if runOpts.storeID == "" {
		fmt.Fprintln(os.Stderr, "--store-id is required")
		os.Exit(1)
	}

	log.Info("starting gfn-client",
		"version", version,
		"apiBaseURL", cfg.APIBaseURL,
		"appId", runOpts.appID,
		"resolution", fmt.Sprintf("%dx%d", runOpts.width, runOpts.height),
		"fps", runOpts.fps,
		"codec", strings.ToLower(runOpts.codec),
	)

	c := core.New(cfg.APIBaseURL, cfg.AuthToken, strings.ToLower(runOpts.codec), iceServersFromConfig(cfg))

	c.Controller().QueueUpdates.Subscribe(func(u session.QueueUpdate) {
		log.Info("queue update", "sessionId", u.SessionID, "position", u.Position, "etaMs", u.ETAMillis)
	})
	c.Controller().StateChanges.Subscribe(func(st session.State) {
		log.Info("session state change", "state", st.String())
	})
	c.Errors.Subscribe(func(e *errs.Error) {
		log.Error("streaming error", "code", e.Code.String(), "message", e.Error())
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received, ending stream")
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		c.Stop(stopCtx)
		cancel()
	}()

	opts := session.StreamingOptions{
		AppID:           runOpts.appID,
		StoreType:       runOpts.storeType,
		StoreID:         runOpts.storeID,
		PreferredServer: runOpts.preferredHost,
		Width:           runOpts.width,
		Height:          runOpts.height,
		FPS:             runOpts.fps,
		Codec:           strings.ToLower(runOpts.codec),
		MaxBitrateMbps:  runOpts.maxBitrateMbps,
		Reflex:          runOpts.reflex,
	}

	if err := c.Run(ctx, opts); err != nil {
		log.Error("stream ended with error", "error", err)
		os.Exit(1)
	}
	log.Info("stream ended")
}
