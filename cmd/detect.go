package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facelink/internal/capture"
	"github.com/kozaktomas/facelink/internal/faceapi"
	"github.com/kozaktomas/facelink/internal/session"
)

// cameraAttempts bounds how long detect --camera waits for the first frame.
const (
	cameraAttempts = 20
	cameraRetryGap = 250 * time.Millisecond
)

var detectCmd = &cobra.Command{
	Use:   "detect [image]",
	Short: "Detect faces in an image or a camera frame",
	Long: `Submit an image file, or one frame from the camera, to the face detection
service and print the detected faces.

With --link the chosen face is linked to a contact right away.

Examples:
  facelink detect portrait.jpg
  facelink detect --camera
  facelink detect group.png --face 2 --link 17
  facelink detect --json portrait.jpg`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)
	detectCmd.Flags().Bool("camera", false, "Capture a frame from the camera instead of reading a file")
	detectCmd.Flags().Int("link", 0, "Link the selected face to this contact ID")
	detectCmd.Flags().Int("face", 0, "Index of the face to link (see the # column)")
	detectCmd.Flags().Bool("json", false, "Output as JSON")
}

func runDetect(cmd *cobra.Command, args []string) error {
	useCamera := mustGetBool(cmd, "camera")
	contactID := mustGetInt(cmd, "link")
	faceIndex := mustGetInt(cmd, "face")
	jsonOutput := mustGetBool(cmd, "json")

	if useCamera == (len(args) == 1) {
		return errors.New("pass exactly one of an image path or --camera")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	orch, err := a.newSession(sessionOptions{interactive: true, memoryBlobStore: true})
	if err != nil {
		return err
	}
	defer orch.Close()

	// detect, history refresh, and optionally the roster load on select, the
	// link and its refresh
	ctx, cancel := a.commandContext(5)
	defer cancel()

	var result *faceapi.DetectionResult
	if useCamera {
		result, err = detectFromCamera(ctx, orch)
	} else {
		result, err = detectFromFile(ctx, orch, args[0])
	}
	if err != nil {
		return err
	}

	var ack *faceapi.Ack
	if contactID > 0 {
		if err := selectDetected(ctx, orch, faceIndex, a.logger); err != nil {
			return err
		}
		ack, err = orch.LinkSelected(ctx, contactID)
		if err != nil {
			return err
		}
	}

	if jsonOutput {
		return outputJSON(detectOutput{Detection: result, Link: ack})
	}

	printDetection(result)
	if ack != nil {
		fmt.Printf("\nLinked face #%d to contact %d: %s\n", faceIndex, contactID, ack.Message)
	}
	return nil
}

type detectOutput struct {
	Detection *faceapi.DetectionResult `json:"detection"`
	Link      *faceapi.Ack             `json:"link,omitempty"`
}

func detectFromFile(ctx context.Context, orch *session.Orchestrator, path string) (*faceapi.DetectionResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return orch.UploadAndSubmit(ctx, filepath.Base(path), data)
}

// detectFromCamera resolves the camera permission and retries until the
// stream delivers a frame.
func detectFromCamera(ctx context.Context, orch *session.Orchestrator) (*faceapi.DetectionResult, error) {
	if err := ensureGranted(ctx, orch.Capture().Gate()); err != nil {
		return nil, err
	}

	for range cameraAttempts {
		result, err := orch.CaptureAndSubmit(ctx)
		if !errors.Is(err, capture.ErrNoFrame) {
			return result, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cameraRetryGap):
		}
	}
	return nil, fmt.Errorf("camera did not deliver a frame: %w", capture.ErrNoFrame)
}

// selectDetected pins face index for linking. A failed roster load after the
// face is pinned does not stop the link.
func selectDetected(ctx context.Context, orch *session.Orchestrator, index int, logger *slog.Logger) error {
	err := orch.SelectDetectedFace(ctx, index)
	if err == nil || errors.Is(err, session.ErrNoFace) || errors.Is(err, session.ErrClosed) {
		return err
	}
	logger.Warn("contacts load after selection failed", "error", err)
	return nil
}

func printDetection(result *faceapi.DetectionResult) {
	fmt.Printf("Detected %d face(s)\n", result.NumFaces)
	if len(result.Faces) == 0 {
		return
	}

	rows := make([][]string, 0, len(result.Faces))
	for i, f := range result.Faces {
		id := "-"
		if f.ID > 0 {
			id = strconv.Itoa(f.ID)
		}
		rows = append(rows, []string{strconv.Itoa(i), id, formatLocation(f.Location)})
	}
	fmt.Println(renderTable(
		[]string{"#", "Face ID", "Location (top, right, bottom, left)"},
		rows,
		[]columnAlignment{alignRight, alignRight, alignLeft},
	))
}

func formatLocation(l faceapi.FaceLocation) string {
	return fmt.Sprintf("%d, %d, %d, %d", l.Top, l.Right, l.Bottom, l.Left)
}
