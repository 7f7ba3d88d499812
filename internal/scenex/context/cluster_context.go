package context

import (
	"context"
	"strings"

	batchv1 "k8s.io/api/batch/v1"
	v1 "k8s.io/api/core/v1"
	k8s_errors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// ClusterContext is the orchestrator's view of the control plane. All status
// queries are idempotent; correctness of the polling loop depends only on
// that, not on any local synchronisation.
type ClusterContext interface {
	SubmitJob(ctx context.Context, job *batchv1.Job) (*batchv1.Job, error)
	GetJob(ctx context.Context, name string) (*batchv1.Job, error)
	ListJobsByPrefix(ctx context.Context, prefix string) ([]batchv1.Job, error)
	DeleteJobsBySelector(ctx context.Context, selector string) error
	DeletePodsBySelector(ctx context.Context, selector string) error

	GetNodes(ctx context.Context) ([]v1.Node, error)
	GetAllPods(ctx context.Context) ([]v1.Pod, error)
	GetPod(ctx context.Context, name string) (*v1.Pod, error)
	GetService(ctx context.Context, name string) (*v1.Service, error)

	Namespace() string
}

type KubernetesClusterContext struct {
	client    kubernetes.Interface
	namespace string
}

func NewClusterContext(client kubernetes.Interface, namespace string) *KubernetesClusterContext {
	return &KubernetesClusterContext{client: client, namespace: namespace}
}

func CreateKubernetesClient() (kubernetes.Interface, error) {
	config, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return kubernetes.NewForConfig(config)
}

func loadConfig() (*rest.Config, error) {
	if config, err := rest.InClusterConfig(); err == nil {
		return config, nil
	}
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	overrides := &clientcmd.ConfigOverrides{}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
}

func (c *KubernetesClusterContext) Namespace() string {
	return c.namespace
}

func (c *KubernetesClusterContext) SubmitJob(ctx context.Context, job *batchv1.Job) (*batchv1.Job, error) {
	return c.client.BatchV1().Jobs(c.namespace).Create(ctx, job, metav1.CreateOptions{})
}

func (c *KubernetesClusterContext) GetJob(ctx context.Context, name string) (*batchv1.Job, error) {
	return c.client.BatchV1().Jobs(c.namespace).Get(ctx, name, metav1.GetOptions{})
}

func (c *KubernetesClusterContext) ListJobsByPrefix(ctx context.Context, prefix string) ([]batchv1.Job, error) {
	jobList, err := c.client.BatchV1().Jobs(c.namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}

	matching := make([]batchv1.Job, 0, len(jobList.Items))
	for _, job := range jobList.Items {
		if strings.HasPrefix(job.Name, prefix) {
			matching = append(matching, job)
		}
	}
	return matching, nil
}

// DeleteJobsBySelector removes all matching jobs with immediate grace and
// background propagation so their pods go too. A resource that is already
// gone is success: cleanup is idempotent.
func (c *KubernetesClusterContext) DeleteJobsBySelector(ctx context.Context, selector string) error {
	jobList, err := c.client.BatchV1().Jobs(c.namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return err
	}

	gracePeriod := int64(0)
	propagation := metav1.DeletePropagationBackground
	options := metav1.DeleteOptions{GracePeriodSeconds: &gracePeriod, PropagationPolicy: &propagation}
	for _, job := range jobList.Items {
		err := c.client.BatchV1().Jobs(c.namespace).Delete(ctx, job.Name, options)
		if err != nil && !IsNotFound(err) {
			return err
		}
	}
	return nil
}

func (c *KubernetesClusterContext) DeletePodsBySelector(ctx context.Context, selector string) error {
	podList, err := c.client.CoreV1().Pods(c.namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return err
	}

	gracePeriod := int64(0)
	options := metav1.DeleteOptions{GracePeriodSeconds: &gracePeriod}
	for _, pod := range podList.Items {
		err := c.client.CoreV1().Pods(c.namespace).Delete(ctx, pod.Name, options)
		if err != nil && !IsNotFound(err) {
			return err
		}
	}
	return nil
}

func (c *KubernetesClusterContext) GetNodes(ctx context.Context) ([]v1.Node, error) {
	nodeList, err := c.client.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	return nodeList.Items, nil
}

func (c *KubernetesClusterContext) GetAllPods(ctx context.Context) ([]v1.Pod, error) {
	podList, err := c.client.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	return podList.Items, nil
}

func (c *KubernetesClusterContext) GetPod(ctx context.Context, name string) (*v1.Pod, error) {
	return c.client.CoreV1().Pods(c.namespace).Get(ctx, name, metav1.GetOptions{})
}

func (c *KubernetesClusterContext) GetService(ctx context.Context, name string) (*v1.Service, error) {
	return c.client.CoreV1().Services(c.namespace).Get(ctx, name, metav1.GetOptions{})
}

// IsNotFound classifies control-plane errors that signal an idempotent
// operation hitting its desired state.
func IsNotFound(err error) bool {
	return err != nil && k8s_errors.IsNotFound(err)
}
