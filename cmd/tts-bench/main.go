package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/index-tts-go/index-tts-go/internal/bench"
)

var cfg bench.Config

var rootCmd = &cobra.Command{
	Use:   "tts-bench",
	Short: "Load-test TTS servers",
	Long: `tts-bench sends synthesis requests to one or more tts-server instances
and reports latency, time to first audio and real-time factor.

Examples:
  # 100 live streams, 8 at a time
  tts-bench -u http://localhost:7860 -c alice -n 100 -j 8

  # batch mode across two servers, round robin
  tts-bench -u http://gpu1:7860 -u http://gpu2:7860 --mode batch -c alice -n 50

  # run until interrupted
  tts-bench -u http://localhost:7860 -a /voices/ref.wav --loop`,
	SilenceUsage: true,
	RunE:         runBench,
}

func init() {
	f := rootCmd.Flags()
	f.StringSliceVarP(&cfg.URLs, "url", "u", []string{"http://127.0.0.1:7860"}, "Server URL (repeatable)")
	f.StringVar((*string)(&cfg.Mode), "mode", string(bench.ModeStream), "Endpoint under test: stream, batch")
	f.IntVarP(&cfg.Requests, "requests", "n", 10, "Number of requests to send")
	f.IntVarP(&cfg.Concurrency, "concurrency", "j", 1, "Number of concurrent workers")
	f.BoolVar(&cfg.Loop, "loop", false, "Send requests continuously until interrupted")
	f.StringVarP(&cfg.Character, "character", "c", "", "Registered voice")
	f.StringSliceVarP(&cfg.AudioPaths, "audio", "a", nil, "Reference audio path or URL (repeatable)")
	f.StringVar(&cfg.Text, "text", "", "Text to synthesize (default: random digits)")
	f.IntVar(&cfg.TextLength, "text-length", 50, "Length of random digit text")
	f.StringVar(&cfg.APIKey, "api-key", "", "API key for authentication")
	f.BoolVar(&cfg.Msgpack, "msgpack", false, "Send request bodies as msgpack")
	f.DurationVar(&cfg.Timeout, "timeout", 10*time.Minute, "Per-request timeout")
	f.String("targets", "", "Path to JSON file with request targets")
	f.BoolP("verbose", "v", false, "Log failed requests")
}

func runBench(cmd *cobra.Command, args []string) error {
	level := zerolog.InfoLevel
	if v, _ := cmd.Flags().GetBool("verbose"); v {
		level = zerolog.DebugLevel
	}
	cfg.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	if path, _ := cmd.Flags().GetString("targets"); path != "" {
		targets, err := bench.LoadTargets(path)
		if err != nil {
			return fmt.Errorf("failed to load targets: %w", err)
		}
		cfg.Targets = targets
	}

	runner, err := bench.NewRunner(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	report := runner.Run(ctx)
	report.Print(cmd.OutOrStdout())
	if report.Success == 0 && report.Total > 0 {
		return fmt.Errorf("all %d requests failed", report.Total)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
