package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/gcsxfer/internal/apiclient"
	"github.com/tonimelisma/gcsxfer/internal/transfer"
)

func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <local-file> <object>",
		Short: "Upload a file",
		Args:  cobra.ExactArgs(2),
		RunE:  runPut,
	}
}

func runPut(cmd *cobra.Command, args []string) error {
	cc := appContextFrom(cmd.Context())
	localPath, object := args[0], args[1]

	return uploadFile(cmd.Context(), cc, localPath, object)
}

// uploadFile sends localPath to object, letting SelectStrategy pick
// simple vs. resumable from its size. Shared by the put and watch
// commands.
func uploadFile(ctx context.Context, cc *appContext, localPath, object string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening %q: %w", localPath, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %q: %w", localPath, err)
	}

	totalSize := fi.Size()
	mimeType := mimeTypeFor(localPath)

	up, err := transfer.NewUpload(f, mimeType, &totalSize, cc.Cfg.ChunkSizeBytes(), cc.Cfg.Transfer.DefaultRetries, false)
	if err != nil {
		return err
	}

	endpoint := cc.Client.UploadEndpoint(object, cc.Cfg.Transfer.Accept, cc.Cfg.ResumableThresholdBytes())
	if err := up.SelectStrategy(endpoint, false); err != nil {
		return err
	}

	builder := apiclient.UploadRequestBuilder()

	switch up.Strategy {
	case transfer.StrategySimple:
		if _, err := up.SendSimpleMedia(ctx, cc.Client.HTTP, endpoint.SimplePath, cc.Client, builder); err != nil {
			return fmt.Errorf("uploading %q: %w", object, err)
		}
	case transfer.StrategyResumable:
		if err := up.InitializeResumable(ctx, cc.Client.HTTP, endpoint.ResumablePath, cc.Client, builder); err != nil {
			return fmt.Errorf("initiating upload of %q: %w", object, err)
		}

		if _, err := up.StreamFile(ctx, builder, true); err != nil {
			return fmt.Errorf("uploading %q: %w", object, err)
		}
	case transfer.StrategyUnset:
		return fmt.Errorf("upload strategy was never selected for %q", object)
	}

	cc.Logger.Debug("upload complete", "object", object, "strategy", string(up.Strategy))
	reportTransfer(cc, "uploaded", object, totalSize)

	return nil
}

// mimeTypeFor sniffs a content type from localPath's extension, falling
// back to a generic binary type when unrecognized.
func mimeTypeFor(localPath string) string {
	if ct := mime.TypeByExtension(filepath.Ext(localPath)); ct != "" {
		return ct
	}

	return "application/octet-stream"
}
