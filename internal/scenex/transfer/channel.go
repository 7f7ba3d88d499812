package transfer

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/avast/retry-go"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	v1 "k8s.io/api/core/v1"

	"github.com/scenexproject/scenex/internal/scenex/configuration"
	clusterContext "github.com/scenexproject/scenex/internal/scenex/context"
	"github.com/scenexproject/scenex/internal/scenex/domain"
	"github.com/scenexproject/scenex/internal/scenex/remote"
)

// Channel moves scenario inputs into the relay's shared storage and result
// archives back out. Uploads go through the relay's bulk-copy surface,
// downloads through its HTTP sidecar with byte-range resume.
type Channel struct {
	relay      configuration.RelayConfiguration
	config     configuration.TransferConfiguration
	executor   remote.Executor
	forwarder  remote.PortForwarder
	cluster    clusterContext.ClusterContext
	httpClient *http.Client
}

func NewChannel(
	relay configuration.RelayConfiguration,
	config configuration.TransferConfiguration,
	executor remote.Executor,
	forwarder remote.PortForwarder,
	cluster clusterContext.ClusterContext,
) *Channel {
	return &Channel{
		relay:      relay,
		config:     config,
		executor:   executor,
		forwarder:  forwarder,
		cluster:    cluster,
		httpClient: &http.Client{Timeout: config.DownloadTimeout},
	}
}

// VerifyRelay confirms the relay pod exists and is Running or Pending.
// Anything else is a precondition failure: no transfer can succeed.
func (c *Channel) VerifyRelay(ctx context.Context) error {
	pod, err := c.cluster.GetPod(ctx, c.relay.PodName)
	if err != nil {
		return domain.PreconditionErrorf("relay pod %s not reachable: %s", c.relay.PodName, err)
	}
	if pod.Status.Phase != v1.PodRunning && pod.Status.Phase != v1.PodPending {
		return domain.PreconditionErrorf("relay pod %s is %s, expected Running or Pending",
			c.relay.PodName, pod.Status.Phase)
	}
	return nil
}

// Upload copies the local staging tree into the relay's export root in one
// bulk transfer, then lists this run's destination directory for an advisory
// check. Listing the run directory rather than the tree root means leftovers
// of an earlier run cannot satisfy the check. The listing never fails the
// upload: the copy itself already reported success.
func (c *Channel) Upload(ctx context.Context, localTree string, runId string) error {
	log.Infof("Uploading %s to relay pod %s:%s", localTree, c.relay.PodName, c.relay.ExportRoot)
	if err := c.executor.BulkCopy(ctx, localTree, c.relay.PodName, c.relay.ExportRoot); err != nil {
		return errors.Wrap(err, "failed to upload staging tree to relay")
	}

	destination := c.relay.ExportRoot + "/" + filepath.Base(localTree) + "/" + runId
	listing, err := c.executor.Command(ctx, c.relay.PodName, c.relay.Container, "ls", destination)
	if err != nil {
		log.Warnf("Could not verify upload of %s: %s", destination, err)
		return nil
	}
	log.Debugf("Upload verified, %s contains: %s", destination, strings.TrimSpace(listing))
	return nil
}

// Download discovers result runs on the relay, then downloads, validates and
// extracts each one with a bounded worker pool. A failing run does not stop
// the others; all failures are collected and returned together.
func (c *Channel) Download(ctx context.Context, outputDir string, force bool) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return errors.WithStack(err)
	}

	runIds, err := c.listRemoteRuns(ctx)
	if err != nil {
		return err
	}
	if len(runIds) == 0 {
		log.Info("No runs found to download")
		return nil
	}
	log.Infof("Downloading %d runs: %s", len(runIds), strings.Join(runIds, ", "))

	localPort, stopForward, err := c.forwarder.Forward(ctx, c.relay.PodName, c.relay.HttpPort)
	if err != nil {
		return errors.Wrap(err, "failed to reach the relay's HTTP endpoint")
	}
	defer stopForward()
	baseUrl := fmt.Sprintf("http://localhost:%d", localPort)

	var mutex sync.Mutex
	var result *multierror.Error
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.config.WorkerCount)

	for _, runId := range runIds {
		runId := runId
		group.Go(func() error {
			err := retry.Do(
				func() error {
					return c.downloadRun(groupCtx, baseUrl, outputDir, runId, force)
				},
				retry.Context(groupCtx),
				retry.Attempts(c.config.DownloadRetries),
				retry.RetryIf(domain.IsRetryableTransfer),
				retry.LastErrorOnly(true),
			)
			if err != nil {
				log.Errorf("Failed to download run %s: %s", runId, err)
				mutex.Lock()
				result = multierror.Append(result, err)
				mutex.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()
	return result.ErrorOrNil()
}

// listRemoteRuns enumerates run directories under the relay's output root
// without transferring anything.
func (c *Channel) listRemoteRuns(ctx context.Context) ([]string, error) {
	output, err := c.executor.Command(ctx, c.relay.PodName, c.relay.Container,
		"find", c.relay.ExportRoot+"/out", "-maxdepth", "1", "-type", "d", "-name", "run-*")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list runs on relay")
	}

	var runIds []string
	for _, line := range strings.Split(output, "\n") {
		name := filepath.Base(strings.TrimSpace(line))
		if strings.HasPrefix(name, "run-") {
			runIds = append(runIds, name)
		}
	}
	return runIds, nil
}

func (c *Channel) downloadRun(ctx context.Context, baseUrl string, outputDir string, runId string, force bool) error {
	runOutputDir := filepath.Join(outputDir, runId)
	if !force && directoryHasContent(runOutputDir) {
		log.Infof("Run %s already downloaded, skipping (use force to re-download)", runId)
		return nil
	}

	archiveName := runId + ".tar.gz"
	remoteArchivePath := c.relay.ExportRoot + "/" + archiveName

	if _, err := c.executor.Command(ctx, c.relay.PodName, c.relay.Container,
		"test", "-f", remoteArchivePath); err != nil {
		log.Infof("Creating archive for run %s on relay", runId)
		_, err := c.executor.Command(ctx, c.relay.PodName, c.relay.Container,
			"tar", "-czf", remoteArchivePath, "-C", c.relay.ExportRoot+"/out", runId)
		if err != nil {
			c.removeRemoteArchive(ctx, remoteArchivePath)
			return errors.Wrapf(err, "failed to create archive for run %s", runId)
		}
	} else {
		log.Infof("Archive for run %s already exists on relay, reusing", runId)
	}

	localArchivePath := filepath.Join(outputDir, archiveName)
	if err := fetchWithResume(ctx, c.httpClient, baseUrl+"/"+archiveName, localArchivePath); err != nil {
		c.removeRemoteArchive(ctx, remoteArchivePath)
		return &domain.TransferError{RunId: runId, Cause: err}
	}

	if _, err := ValidateArchive(localArchivePath); err != nil {
		log.Warnf("Archive for run %s failed validation, removing: %s", runId, err)
		_ = os.Remove(localArchivePath)
		c.removeRemoteArchive(ctx, remoteArchivePath)
		return &domain.TransferError{RunId: runId, Cause: err}
	}

	if force {
		if err := os.RemoveAll(runOutputDir); err != nil {
			return errors.WithStack(err)
		}
	}
	if err := ExtractArchive(localArchivePath, outputDir); err != nil {
		return errors.Wrapf(err, "failed to extract archive for run %s", runId)
	}

	c.removeRemoteArchive(ctx, remoteArchivePath)
	if _, err := c.executor.Command(ctx, c.relay.PodName, c.relay.Container,
		"rm", "-rf", c.relay.ExportRoot+"/out/"+runId); err != nil {
		log.Warnf("Could not delete run %s from relay: %s", runId, err)
	}
	log.Infof("Run %s downloaded and extracted to %s", runId, runOutputDir)
	return nil
}

// removeRemoteArchive is best-effort: failure paths must not leave archives
// consuming relay disk space, but a failed delete never masks the original
// error.
func (c *Channel) removeRemoteArchive(ctx context.Context, remoteArchivePath string) {
	if _, err := c.executor.Command(ctx, c.relay.PodName, c.relay.Container,
		"rm", "-f", remoteArchivePath); err != nil {
		log.Warnf("Could not remove remote archive %s: %s", remoteArchivePath, err)
	}
}

func directoryHasContent(path string) bool {
	entries, err := os.ReadDir(path)
	return err == nil && len(entries) > 0
}
