package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/index-tts-go/index-tts-go/internal/config"
)

var (
	cfgFile string

	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "tts-server",
	Short: "Live text-to-speech streaming server",
	Long: `tts-server synthesizes speech with a model sidecar and streams it to
clients as raw float32 PCM while the model is still producing audio.

Start the server:
  tts-server

Start with custom settings:
  tts-server --listen 0.0.0.0:7860 --engine-url http://localhost:8081

Run without a model, using the built-in tone engine:
  tts-server --engine tone

Use environment variables:
  TTS_SERVER_LISTEN=0.0.0.0:7860 TTS_ENGINE_URL=http://localhost:8081 tts-server`,
	SilenceUsage: true,
	RunE:         runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tts-server %s\n", Version)
		fmt.Printf("  Commit:     %s\n", Commit)
		fmt.Printf("  Build Date: %s\n", BuildDate)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	rootCmd.Flags().String("listen", "0.0.0.0:7860", "Server listen address")
	rootCmd.Flags().Duration("read-timeout", 30*time.Second, "HTTP read timeout")
	rootCmd.Flags().Duration("write-timeout", 120*time.Second, "HTTP write timeout for batch responses")

	rootCmd.Flags().String("engine", config.EngineKindBackend, "Engine kind (backend, tone)")
	rootCmd.Flags().String("engine-url", "http://127.0.0.1:8081", "Model sidecar URL")
	rootCmd.Flags().Duration("engine-timeout", 60*time.Second, "Model sidecar request timeout")
	rootCmd.Flags().String("model-dir", "checkpoints", "Model directory passed to the sidecar")
	rootCmd.Flags().Float64("gpu-memory", 0.25, "GPU memory fraction passed to the sidecar")

	rootCmd.Flags().String("voices", "assets/speaker.json", "Voice table file")
	rootCmd.Flags().String("voice-store", "", "SQLite file for runtime voice registrations (empty = not persisted)")

	rootCmd.Flags().String("api-key", "", "API key for authentication (empty = no auth)")
	rootCmd.Flags().Int("max-text-length", 0, "Maximum text length in characters (0 = unlimited)")
	rootCmd.Flags().Int("max-streams", 8, "Maximum concurrent live streams")

	rootCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().String("log-format", "json", "Log format (json, text)")
	rootCmd.Flags().String("trace-exporter", "none", "Trace exporter (none, stdout, otlp)")

	bindFlags()

	rootCmd.AddCommand(versionCmd)
}

func bindFlags() {
	bindings := []struct {
		key  string
		flag string
	}{
		{"server.listen", "listen"},
		{"server.read_timeout", "read-timeout"},
		{"server.write_timeout", "write-timeout"},
		{"engine.kind", "engine"},
		{"engine.url", "engine-url"},
		{"engine.timeout", "engine-timeout"},
		{"engine.model_dir", "model-dir"},
		{"engine.gpu_memory_utilization", "gpu-memory"},
		{"voices.file", "voices"},
		{"voices.store_path", "voice-store"},
		{"auth.api_key", "api-key"},
		{"limits.max_text_length", "max-text-length"},
		{"limits.max_concurrent_streams", "max-streams"},
		{"logging.level", "log-level"},
		{"logging.format", "log-format"},
		{"telemetry.exporter", "trace-exporter"},
	}

	for _, b := range bindings {
		flag := rootCmd.Flags().Lookup(b.flag)
		if flag == nil {
			continue
		}
		_ = viper.BindPFlag(b.key, flag)
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./configs")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("TTS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults(config.Default())
	bindFlags()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// setDefaults registers every key with viper. AutomaticEnv only consults the
// environment for keys viper already knows about.
func setDefaults(d *config.Config) {
	viper.SetDefault("server.listen", d.Server.Listen)
	viper.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	viper.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	viper.SetDefault("server.chunk_write_timeout", d.Server.ChunkWriteTimeout)

	viper.SetDefault("engine.kind", d.Engine.Kind)
	viper.SetDefault("engine.url", d.Engine.URL)
	viper.SetDefault("engine.timeout", d.Engine.Timeout)
	viper.SetDefault("engine.max_connections", d.Engine.MaxConnections)
	viper.SetDefault("engine.model_dir", d.Engine.ModelDir)
	viper.SetDefault("engine.gpu_memory_utilization", d.Engine.GPUMemoryUtilization)
	viper.SetDefault("engine.sample_rate", d.Engine.SampleRate)

	viper.SetDefault("resolver.temp_dir", d.Resolver.TempDir)
	viper.SetDefault("resolver.chunk_size", d.Resolver.ChunkSize)
	viper.SetDefault("resolver.download_timeout", d.Resolver.DownloadTimeout)
	viper.SetDefault("resolver.block_private_hosts", d.Resolver.BlockPrivateHosts)

	viper.SetDefault("voices.file", d.Voices.File)
	viper.SetDefault("voices.store_path", d.Voices.StorePath)

	viper.SetDefault("auth.api_key", d.Auth.APIKey)

	viper.SetDefault("limits.max_text_length", d.Limits.MaxTextLength)
	viper.SetDefault("limits.max_concurrent_streams", d.Limits.MaxConcurrentStreams)
	viper.SetDefault("limits.acquire_timeout", d.Limits.AcquireTimeout)
	viper.SetDefault("limits.batch_workers", d.Limits.BatchWorkers)
	viper.SetDefault("limits.batch_queue", d.Limits.BatchQueue)
	viper.SetDefault("limits.requests_per_second", d.Limits.RequestsPerSecond)
	viper.SetDefault("limits.burst", d.Limits.Burst)

	viper.SetDefault("logging.level", d.Logging.Level)
	viper.SetDefault("logging.format", d.Logging.Format)

	viper.SetDefault("telemetry.exporter", d.Telemetry.Exporter)
	viper.SetDefault("telemetry.otlp_endpoint", d.Telemetry.OTLPEndpoint)
	viper.SetDefault("telemetry.otlp_insecure", d.Telemetry.OTLPInsecure)
	viper.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
