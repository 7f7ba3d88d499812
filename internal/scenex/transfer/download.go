package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// fetchWithResume downloads url into localPath, continuing a partial file if
// one exists. A partial-content response appends at the current offset; a
// full-content response means the server ignored the range request, so the
// partial file is discarded and the download restarts from zero.
func fetchWithResume(ctx context.Context, client *http.Client, url string, localPath string) error {
	var initialOffset int64
	if info, err := os.Stat(localPath); err == nil {
		initialOffset = info.Size()
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.WithStack(err)
	}
	if initialOffset > 0 {
		log.Infof("Found partial download (%d bytes), attempting to resume", initialOffset)
		request.Header.Set("Range", fmt.Sprintf("bytes=%d-", initialOffset))
	}

	response, err := client.Do(request)
	if err != nil {
		return errors.Wrapf(err, "failed to fetch %s", url)
	}
	defer response.Body.Close()

	var file *os.File
	switch response.StatusCode {
	case http.StatusPartialContent:
		log.Infof("Resuming download from byte %d", initialOffset)
		file, err = os.OpenFile(localPath, os.O_APPEND|os.O_WRONLY, 0o644)
	case http.StatusOK:
		if initialOffset > 0 {
			log.Info("Server does not support resume, restarting download")
			if err := os.Remove(localPath); err != nil {
				return errors.WithStack(err)
			}
		}
		file, err = os.Create(localPath)
	case http.StatusRequestedRangeNotSatisfiable:
		// The partial file already covers the whole archive.
		log.Infof("Download of %s already complete", url)
		return nil
	default:
		return errors.Errorf("unexpected status %d fetching %s", response.StatusCode, url)
	}
	if err != nil {
		return errors.WithStack(err)
	}
	defer file.Close()

	if _, err := io.Copy(file, response.Body); err != nil {
		return errors.Wrapf(err, "download of %s interrupted", url)
	}
	return nil
}
