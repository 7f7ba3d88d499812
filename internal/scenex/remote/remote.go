package remote

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Executor runs commands inside a pod and copies directory trees into it.
// Both operations go through the cluster's exec path, so they work on any
// cluster the operator's kubeconfig can reach, with no agent inside the pod.
type Executor interface {
	Command(ctx context.Context, pod string, container string, command ...string) (string, error)
	BulkCopy(ctx context.Context, localPath string, pod string, remotePath string) error
}

// Applier submits rendered manifests to the control plane.
type Applier interface {
	Apply(ctx context.Context, manifest []byte) error
	Delete(ctx context.Context, manifest []byte) error
}

// PortForwarder exposes a pod port on localhost for the lifetime of the
// returned stop function.
type PortForwarder interface {
	Forward(ctx context.Context, pod string, podPort int) (localPort int, stop func(), err error)
}

// Kubectl implements Executor, Applier and PortForwarder by shelling out to
// the kubectl binary. Credentials, proxies and exotic auth plugins all come
// for free from the operator's existing kubeconfig.
type Kubectl struct {
	namespace string
}

func NewKubectl(namespace string) *Kubectl {
	return &Kubectl{namespace: namespace}
}

func (k *Kubectl) Command(ctx context.Context, pod string, container string, command ...string) (string, error) {
	args := []string{"exec", "-n", k.namespace, pod}
	if container != "" {
		args = append(args, "-c", container)
	}
	args = append(args, "--")
	args = append(args, command...)
	return k.run(ctx, nil, args...)
}

// BulkCopy ships a local directory tree into the pod in one invocation.
// kubectl cp streams a tar archive through the exec channel, which is far
// cheaper than per-file round trips.
func (k *Kubectl) BulkCopy(ctx context.Context, localPath string, pod string, remotePath string) error {
	target := fmt.Sprintf("%s/%s:%s", k.namespace, pod, remotePath)
	_, err := k.run(ctx, nil, "cp", localPath, target)
	return err
}

func (k *Kubectl) Apply(ctx context.Context, manifest []byte) error {
	_, err := k.run(ctx, manifest, "apply", "-f", "-")
	return err
}

// Delete tolerates resources that are already gone.
func (k *Kubectl) Delete(ctx context.Context, manifest []byte) error {
	_, err := k.run(ctx, manifest, "delete", "--ignore-not-found=true", "-f", "-")
	return err
}

var forwardingPattern = regexp.MustCompile(`Forwarding from 127\.0\.0\.1:(\d+)`)

// Forward starts kubectl port-forward with an ephemeral local port and
// blocks until the tunnel reports readiness. The caller must invoke stop
// exactly once.
func (k *Kubectl) Forward(ctx context.Context, pod string, podPort int) (int, func(), error) {
	cmd := exec.CommandContext(ctx, "kubectl",
		"port-forward", "-n", k.namespace, "pod/"+pod, fmt.Sprintf(":%d", podPort))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, nil, errors.WithStack(err)
	}
	if err := cmd.Start(); err != nil {
		return 0, nil, errors.Wrap(err, "failed to start port-forward")
	}

	ready := make(chan int, 1)
	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			if match := forwardingPattern.FindStringSubmatch(scanner.Text()); match != nil {
				port, _ := strconv.Atoi(match[1])
				ready <- port
				break
			}
		}
		close(ready)
	}()

	stop := func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		_ = cmd.Wait()
	}

	select {
	case port, ok := <-ready:
		if !ok || port == 0 {
			stop()
			return 0, nil, errors.Errorf("port-forward to pod %s did not become ready", pod)
		}
		return port, stop, nil
	case <-time.After(30 * time.Second):
		stop()
		return 0, nil, errors.Errorf("timed out waiting for port-forward to pod %s", pod)
	case <-ctx.Done():
		stop()
		return 0, nil, ctx.Err()
	}
}

func (k *Kubectl) run(ctx context.Context, stdin []byte, args ...string) (string, error) {
	log.Debugf("Running: kubectl %s", strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, "kubectl", args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		return "", errors.Wrapf(err, "kubectl %s failed: %s", args[0], detail)
	}
	return stdout.String(), nil
}
