package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/efreitasn/minibourse/internal/config"
)

func main() {
	root := &cobra.Command{
		Use:           "minibourse",
		Short:         "Session-driven securities exchange",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newHealthcheckCmd())

	if err := root.Execute(); err != nil {
		slog.Error("command failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// newHealthcheckCmd probes GET /healthz on the local server and exits
// non-zero when it is not healthy.
func newHealthcheckCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check the health of a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: 2 * time.Second}
			resp, err := client.Get(fmt.Sprintf("http://localhost:%d/healthz", port))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("healthz returned %d", resp.StatusCode)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", envPort(), "server port")
	return cmd
}

func envPort() int {
	var port int
	if _, err := fmt.Sscanf(os.Getenv("PORT"), "%d", &port); err != nil || port == 0 {
		return 8080
	}
	return port
}

// newLogger builds the JSON logger. With LOG_FILE set, records also go to a
// size-rotated file.
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			Compress:   true,
		})
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
}
