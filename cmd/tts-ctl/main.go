package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/index-tts-go/index-tts-go/internal/audiodev"
	"github.com/index-tts-go/index-tts-go/internal/client"
	"github.com/index-tts-go/index-tts-go/internal/playback"
	"github.com/index-tts-go/index-tts-go/internal/schema"
)

var (
	serverURL string
	apiKey    string
	output    string
	msgpack   bool
	verbose   bool

	character  string
	audioPaths []string
)

var rootCmd = &cobra.Command{
	Use:   "tts-ctl",
	Short: "TTS server client",
	Long: `tts-ctl talks to a tts-server.

Commands:
  health   Check server health
  voices   Manage registered voices
  say      Synthesize text into a WAV file
  play     Stream text to the speakers as it is synthesized

Examples:
  tts-ctl voices register alice ./alice.wav
  tts-ctl say -c alice -o hello.wav "Hello, world!"
  tts-ctl play -c alice "Hello, world!"
  tts-ctl play -a https://example.com/voice.wav "Hello in a cloned voice"`,
	SilenceUsage: true,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server health",
	RunE:  runHealth,
}

var voicesCmd = &cobra.Command{
	Use:   "voices",
	Short: "Manage registered voices",
}

var voicesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered voices",
	RunE:  runVoicesList,
}

var voicesRegisterCmd = &cobra.Command{
	Use:   "register [name] [audio...]",
	Short: "Register or replace a voice",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runVoicesRegister,
}

var sayCmd = &cobra.Command{
	Use:   "say [text]",
	Short: "Synthesize text into a WAV file",
	Args:  cobra.ExactArgs(1),
	RunE:  runSay,
}

var playCmd = &cobra.Command{
	Use:   "play [text]",
	Short: "Stream text to the default output device",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlay,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:7860", "TTS server URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for authentication")
	rootCmd.PersistentFlags().StringVar(&output, "format", "text", "Output format: text, json")
	rootCmd.PersistentFlags().BoolVar(&msgpack, "msgpack", false, "Send request bodies as msgpack")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug details")

	for _, cmd := range []*cobra.Command{sayCmd, playCmd} {
		cmd.Flags().StringVarP(&character, "character", "c", "", "Registered voice")
		cmd.Flags().StringSliceVarP(&audioPaths, "audio", "a", nil, "Reference audio path or URL (repeatable)")
		cmd.MarkFlagsMutuallyExclusive("character", "audio")
		cmd.MarkFlagsOneRequired("character", "audio")
	}
	sayCmd.Flags().StringP("output", "o", "output.wav", "Output file (- for stdout)")
	playCmd.Flags().Int("device-rate", audiodev.DefaultSampleRate, "Output device sample rate")
	playCmd.Flags().Int("queue", playback.DefaultQueueBlocks, "Playback queue length in blocks")

	healthCmd.Flags().Bool("detailed", false, "Show detailed health information")

	rootCmd.AddCommand(healthCmd, voicesCmd, sayCmd, playCmd)
	voicesCmd.AddCommand(voicesListCmd, voicesRegisterCmd)
}

func newClient() *client.Client {
	var opts []client.Option
	if apiKey != "" {
		opts = append(opts, client.WithAPIKey(apiKey))
	}
	if msgpack {
		opts = append(opts, client.WithMsgpack())
	}
	return client.New(serverURL, opts...)
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runHealth(cmd *cobra.Command, args []string) error {
	detailed, _ := cmd.Flags().GetBool("detailed")

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	health, err := newClient().Health(ctx, detailed)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if output == "json" {
		return printJSON(out, health)
	}

	fmt.Fprintf(out, "Status: %s\n", health.Status)
	if e := health.Engine; e != nil {
		fmt.Fprintf(out, "Engine: %s %s (latency: %dms)\n", e.Kind, e.Status, e.LatencyMS)
		if e.Error != "" {
			fmt.Fprintf(out, "Engine Error: %s\n", e.Error)
		}
	}
	if health.Voices != nil {
		fmt.Fprintf(out, "Voices: %d\n", *health.Voices)
	}
	if health.Uptime != nil {
		fmt.Fprintf(out, "Uptime: %s\n", health.Uptime.Round(time.Second))
	}
	return nil
}

func runVoicesList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	voices, err := newClient().ListVoices(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if output == "json" {
		return printJSON(out, voices)
	}

	if len(voices) == 0 {
		fmt.Fprintln(out, "No voices registered")
		return nil
	}

	fmt.Fprintln(out, "Voices:")
	for _, v := range voices {
		synced := ""
		if !v.EngineSynced {
			synced = " (not synced to engine)"
		}
		fmt.Fprintf(out, "  - %s: %d reference(s)%s\n", v.Name, len(v.AudioPaths), synced)
	}
	return nil
}

func runVoicesRegister(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	voice, err := newClient().RegisterVoice(ctx, args[0], args[1:])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if output == "json" {
		return printJSON(out, voice)
	}
	fmt.Fprintf(out, "Voice '%s' registered with %d reference(s)\n", voice.Name, len(voice.AudioPaths))
	return nil
}

func synthesisRequest(text string) *schema.SynthesisRequest {
	return &schema.SynthesisRequest{Text: text, Character: character, AudioPaths: audioPaths}
}

func runSay(cmd *cobra.Command, args []string) error {
	dest, _ := cmd.Flags().GetString("output")

	start := time.Now()
	wav, err := newClient().Synthesize(cmd.Context(), synthesisRequest(args[0]))
	if err != nil {
		return err
	}

	if dest == "-" {
		_, err = cmd.OutOrStdout().Write(wav)
		return err
	}
	if err := os.WriteFile(dest, wav, 0o644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d bytes to %s in %s\n", len(wav), dest, time.Since(start).Round(time.Millisecond))
	return nil
}

func runPlay(cmd *cobra.Command, args []string) error {
	deviceRate, _ := cmd.Flags().GetInt("device-rate")
	queueBlocks, _ := cmd.Flags().GetInt("queue")
	logger := newLogger()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	stream, err := newClient().Stream(ctx, synthesisRequest(args[0]))
	if err != nil {
		return err
	}
	defer stream.Close()
	if stream.Channels != 1 {
		return fmt.Errorf("unsupported channel count %d", stream.Channels)
	}
	logger.Debug().
		Int("sample_rate", stream.SampleRate).
		Dur("first_byte", time.Since(start)).
		Msg("stream opened")

	player := playback.NewPlayer(playback.Config{
		DeviceRate:  deviceRate,
		QueueBlocks: queueBlocks,
		Logger:      logger,
	})
	device := audiodev.NewOutput(audiodev.Config{
		SampleRate: player.DeviceRate(),
		Logger:     logger,
	}, player.Callback)
	if err := device.Start(); err != nil {
		return err
	}
	defer device.Close()

	stats, err := player.Feed(ctx, stream, stream.SampleRate)
	if err != nil {
		return err
	}
	if err := player.Drain(ctx); err != nil {
		return err
	}

	logger.Info().
		Int64("samples", stats.Samples).
		Int("skipped_blocks", stats.Skipped).
		Int64("underruns", player.Queue().Underruns()).
		Dur("elapsed", time.Since(start)).
		Msg("playback finished")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
