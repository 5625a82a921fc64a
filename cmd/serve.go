package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facelink/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local control server",
	Long: `Start the local control server. It runs one session (camera capture,
detection history, contacts and gallery) and exposes it over HTTP, with a
websocket stream of session events for a browser front end.

Permission requests are answered over HTTP, not on the terminal.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (defaults to WEB_PORT or 8080)")
	serveCmd.Flags().String("host", "", "Host to bind to (defaults to WEB_HOST or localhost)")
}

// resolveServeHostPort prefers flags over the environment-derived config.
func resolveServeHostPort(cmd *cobra.Command, a *app) (int, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")
	if port <= 0 {
		port = a.cfg.Web.Port
	}
	if host == "" {
		host = a.cfg.Web.Host
	}
	return port, host
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	// permissions are answered through the API
	a.cfg.Device.Interactive = false
	orch, err := a.newSession(sessionOptions{})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startCtx, startCancel := context.WithTimeout(ctx, a.cfg.API.Timeout)
	orch.Start(startCtx)
	startCancel()

	port, host := resolveServeHostPort(cmd, a)
	server := web.NewServer(a.cfg, orch, port, host, a.logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Facelink on http://%s:%d\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		orch.Close()
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
