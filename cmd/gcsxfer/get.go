package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/gcsxfer/internal/apiclient"
	"github.com/tonimelisma/gcsxfer/internal/transfer"
)

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <object> <local-file>",
		Short: "Download an object",
		Args:  cobra.ExactArgs(2),
		RunE:  runGet,
	}
}

func runGet(cmd *cobra.Command, args []string) error {
	cc := appContextFrom(cmd.Context())
	object, localPath := args[0], args[1]

	f, existingSize, err := openForResume(localPath)
	if err != nil {
		return fmt.Errorf("opening %q: %w", localPath, err)
	}
	defer f.Close()

	dl, err := transfer.NewDownload(f, cc.Cfg.ChunkSizeBytes(), cc.Cfg.Transfer.DefaultRetries, false)
	if err != nil {
		return err
	}

	// autoTransfer is false here: the CLI resumes from existingSize rather
	// than always starting at byte 0, so it drives GetRange itself below.
	if err := dl.Initialize(
		cmd.Context(), cc.Client.HTTP, cc.Client.DownloadURL(object), cc.Client, apiclient.DownloadRequestBuilder(), false,
	); err != nil {
		return err
	}

	cc.Logger.Debug("starting download", "object", object, "local_path", localPath, "resume_from", existingSize)

	if err := dl.GetRange(cmd.Context(), existingSize, nil, true); err != nil {
		return fmt.Errorf("downloading %q: %w", object, err)
	}

	reportTransfer(cc, "downloaded", localPath, dl.Progress)

	return nil
}

// openForResume opens localPath for appending, reporting its current size
// so the caller can resume an interrupted download from that offset.
func openForResume(localPath string) (*os.File, int64, error) {
	f, err := os.OpenFile(localPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, 0, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()

		return nil, 0, err
	}

	return f, fi.Size(), nil
}
