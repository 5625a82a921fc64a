package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facelink/internal/config"
	"github.com/kozaktomas/facelink/internal/faceapi"
	"github.com/kozaktomas/facelink/internal/gallery"
)

var galleryCmd = &cobra.Command{
	Use:   "gallery",
	Short: "Photo gallery commands",
	Long: `Commands for scanning photo directories on the detection service, grouping
photos by face, uploading photos and linking photos to stored faces.

Scanning and uploading need storage access. Set FACELINK_DEVICE_GRANTS=storage
to skip the prompt.`,
}

var galleryScanCmd = &cobra.Command{
	Use:   "scan <directory>",
	Short: "Scan a server-side directory for faces",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return runGalleryScan(cmd, args[0], false) },
}

var galleryRescanCmd = &cobra.Command{
	Use:   "rescan <directory>",
	Short: "Scan a directory again and regroup",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return runGalleryScan(cmd, args[0], true) },
}

var galleryOrganizeCmd = &cobra.Command{
	Use:   "organize",
	Short: "Group scanned photos by face",
	Args:  cobra.NoArgs,
	RunE:  runGalleryOrganize,
}

var galleryUploadCmd = &cobra.Command{
	Use:   "upload <file> [file...]",
	Short: "Upload photos for scanning",
	Long: `Upload photos one at a time for face scanning, then regroup the collection.
The upload stops at the first failing file.

Example:
  facelink gallery upload ~/Pictures/*.jpg`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGalleryUpload,
}

var galleryFetchCmd = &cobra.Command{
	Use:   "fetch <filename>",
	Short: "Fetch a photo into the local cache",
	Long: `Fetch a photo payload into the local cache and print its location.
With --out the payload is also written to the given path.`,
	Args: cobra.ExactArgs(1),
	RunE: runGalleryFetch,
}

var galleryLinkCmd = &cobra.Command{
	Use:   "link <photo-id> <face-id>",
	Short: "Record that a photo shows a stored face",
	Args:  cobra.ExactArgs(2),
	RunE:  runGalleryLink,
}

func init() {
	rootCmd.AddCommand(galleryCmd)
	galleryCmd.AddCommand(galleryScanCmd, galleryRescanCmd, galleryOrganizeCmd, galleryUploadCmd, galleryFetchCmd, galleryLinkCmd)

	for _, c := range []*cobra.Command{galleryScanCmd, galleryRescanCmd, galleryOrganizeCmd, galleryUploadCmd} {
		c.Flags().Bool("json", false, "Output as JSON")
	}
	galleryFetchCmd.Flags().StringP("out", "o", "", "Write the photo to this path")
}

// openGallery builds a gallery controller and, when storage is true,
// resolves storage access first.
func openGallery(ctx context.Context, a *app, storage bool, progress gallery.ProgressFunc) (*gallery.Controller, error) {
	provider, err := a.provider(storage)
	if err != nil {
		return nil, err
	}
	gc := a.galleryController(provider, false, progress)
	if storage {
		if err := ensureGranted(ctx, gc.Gate()); err != nil {
			gc.Close()
			return nil, err
		}
	}
	return gc, nil
}

type scanOutput struct {
	*faceapi.ScanResult
	Groups []faceapi.FaceGroup `json:"groups,omitempty"`
}

func runGalleryScan(cmd *cobra.Command, directory string, rescan bool) error {
	jsonOutput := mustGetBool(cmd, "json")

	a, err := newApp()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	gc, err := openGallery(ctx, a, true, nil)
	if err != nil {
		return err
	}
	defer gc.Close()

	run := gc.Scan
	if rescan {
		run = gc.Rescan
	}
	result, err := run(ctx, directory)
	if err != nil {
		return err
	}

	out := scanOutput{ScanResult: result}
	if rescan {
		if out.Groups, err = gc.Organize(ctx); err != nil {
			return err
		}
	}

	if jsonOutput {
		return outputJSON(out)
	}
	printPhotos(gc.Photos(), &a.cfg.API)
	printScanErrors(result.Errors)
	fmt.Printf("\nProcessed %d photo(s), %d error(s)\n", result.TotalProcessed, result.TotalErrors)
	if rescan {
		fmt.Println()
		printGroups(out.Groups, &a.cfg.API)
	}
	return nil
}

func runGalleryOrganize(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	a, err := newApp()
	if err != nil {
		return err
	}
	ctx, cancel := a.commandContext(1)
	defer cancel()

	gc, err := openGallery(ctx, a, false, nil)
	if err != nil {
		return err
	}
	defer gc.Close()

	groups, err := gc.Organize(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		return outputJSON(groups)
	}
	printGroups(groups, &a.cfg.API)
	return nil
}

type uploadOutput struct {
	Uploaded []faceapi.Photo     `json:"uploaded"`
	Groups   []faceapi.FaceGroup `json:"groups"`
}

func runGalleryUpload(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	files := make([]faceapi.File, 0, len(args))
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		files = append(files, faceapi.File{Name: filepath.Base(path), Data: data})
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	bar := &barProgress{description: "Uploading", unit: "files", quiet: jsonOutput}
	gc, err := openGallery(ctx, a, true, bar.report)
	if err != nil {
		return err
	}
	defer gc.Close()

	uploaded, err := gc.Upload(ctx, files)
	bar.close()
	if err != nil {
		if len(uploaded) > 0 {
			fmt.Printf("Uploaded %d photo(s) before the failure\n", len(uploaded))
		}
		return err
	}

	groups, _ := gc.Groups()
	if jsonOutput {
		return outputJSON(uploadOutput{Uploaded: uploaded, Groups: groups})
	}
	printPhotos(uploaded, &a.cfg.API)
	fmt.Println()
	printGroups(groups, &a.cfg.API)
	return nil
}

func runGalleryFetch(cmd *cobra.Command, args []string) error {
	filename := args[0]
	outPath := mustGetString(cmd, "out")

	a, err := newApp()
	if err != nil {
		return err
	}
	ctx, cancel := a.commandContext(1)
	defer cancel()

	gc, err := openGallery(ctx, a, false, nil)
	if err != nil {
		return err
	}
	defer gc.Close()

	u, err := gc.ResolveURL(ctx, filename)
	if err != nil {
		return err
	}
	fmt.Println(u)

	if outPath == "" {
		return nil
	}
	blob, ok := gc.Blob(filename)
	if !ok {
		return fmt.Errorf("photo %s missing from cache", filename)
	}
	if err := os.WriteFile(outPath, blob.Data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", outPath, err)
	}
	fmt.Printf("Saved %s (%d bytes, %s)\n", outPath, len(blob.Data), blob.ContentType)
	return nil
}

func runGalleryLink(cmd *cobra.Command, args []string) error {
	photoID, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid photo ID %q", args[0])
	}
	faceID, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid face ID %q", args[1])
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	ctx, cancel := a.commandContext(1)
	defer cancel()

	gc, err := openGallery(ctx, a, false, nil)
	if err != nil {
		return err
	}
	defer gc.Close()

	ack, err := gc.LinkPhotoToFace(ctx, photoID, faceID)
	if err != nil {
		return err
	}
	fmt.Println(ack.Message)
	return nil
}

func printPhotos(photos []faceapi.Photo, apiCfg *config.APIConfig) {
	if len(photos) == 0 {
		fmt.Println("No photos")
		return
	}
	rows := make([][]string, 0, len(photos))
	for _, p := range photos {
		id := "-"
		if p.ID > 0 {
			id = strconv.Itoa(p.ID)
		}
		faceIDs := make([]string, 0, len(p.Faces))
		for _, f := range p.Faces {
			faceIDs = append(faceIDs, strconv.Itoa(f.ID))
		}
		rows = append(rows, []string{id, apiCfg.PhotoLink(p.Filename), strconv.Itoa(len(p.Faces)), strings.Join(faceIDs, ", ")})
	}
	fmt.Println(renderTable(
		[]string{"ID", "Photo", "Faces", "Face IDs"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight},
	))
}

func printScanErrors(errs []faceapi.ScanError) {
	if len(errs) == 0 {
		return
	}
	fmt.Printf("\nErrors: %d\n", len(errs))
	for _, e := range errs {
		fmt.Printf("  - %s: %s\n", e.Filename, e.Error)
	}
}

func printGroups(groups []faceapi.FaceGroup, apiCfg *config.APIConfig) {
	if len(groups) == 0 {
		fmt.Println("No face groups")
		return
	}
	rows := make([][]string, 0, len(groups))
	for _, g := range groups {
		names := make([]string, 0, len(g.Photos))
		for _, p := range g.Photos {
			names = append(names, apiCfg.PhotoLink(p.Filename))
		}
		rows = append(rows, []string{g.ID, g.Name, strconv.Itoa(len(g.Photos)), strings.Join(names, "\n")})
	}
	fmt.Println(renderTable(
		[]string{"Group", "Name", "Photos", "Files"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight},
	))
}
