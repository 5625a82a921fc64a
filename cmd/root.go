package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	captureDir string
	apiURL     string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "facelink",
	Short: "Detect faces and link them to contacts",
	Long: `Facelink talks to a face detection service. It submits camera frames or
image files for detection, keeps the detection history, and links detected
faces to contacts imported from the device or to photos in a scanned gallery.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&captureDir, "capture", "", "Directory to save API responses for testing")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "Face detection service URL (overrides FACELINK_API_URL)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: auto, console, json")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
