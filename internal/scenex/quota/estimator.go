package quota

import (
	"context"

	log "github.com/sirupsen/logrus"
	v1 "k8s.io/api/core/v1"

	"github.com/scenexproject/scenex/internal/common"
	clusterContext "github.com/scenexproject/scenex/internal/scenex/context"
)

// Fallback quotas used when the cluster cannot be queried or reports no
// headroom.
const (
	DefaultCpuQuota      int64 = 8
	DefaultMemoryQuotaGi int64 = 32
)

const bytesPerGi = int64(1024 * 1024 * 1024)

// Estimator computes a safe admission quota for the job queue from live
// cluster telemetry. The result reflects actually-available headroom at the
// time of the call, not a static configuration value.
type Estimator struct {
	clusterContext clusterContext.ClusterContext
}

func NewEstimator(clusterContext clusterContext.ClusterContext) *Estimator {
	return &Estimator{clusterContext: clusterContext}
}

// ComputeQuota sums node allocatable capacity, subtracts the resource
// requests of all Running and Pending pods cluster-wide (including this
// tool's own jobs and everything else), and returns the remainder. Both
// quantities are rounded down, cpu to whole cores and memory to whole GiB,
// minimum 1 each; the quota must never overstate headroom. Defaults are
// returned when the cluster is unreachable or the computed availability is
// non-positive.
func (e *Estimator) ComputeQuota(ctx context.Context) (cpuCores int64, memoryGi int64) {
	nodes, err := e.clusterContext.GetNodes(ctx)
	if err != nil {
		log.Warnf("Failed to query cluster nodes, using default quotas: %s", err)
		return DefaultCpuQuota, DefaultMemoryQuotaGi
	}

	pods, err := e.clusterContext.GetAllPods(ctx)
	if err != nil {
		log.Warnf("Failed to query cluster pods, using default quotas: %s", err)
		return DefaultCpuQuota, DefaultMemoryQuotaGi
	}

	allocatable := common.CalculateTotalResource(nodePointers(nodes))
	requested := common.CalculateTotalResourceRequest(activePodPointers(pods))

	available := allocatable.DeepCopy()
	available.Sub(requested)

	availableCpu := available["cpu"]
	availableMemory := available["memory"]
	cpuCores = availableCpu.MilliValue() / 1000
	memoryGi = availableMemory.Value() / bytesPerGi

	if availableCpu.MilliValue() <= 0 || availableMemory.Value() <= 0 {
		log.Warn("No available resources after subtracting requests, using default quotas")
		return DefaultCpuQuota, DefaultMemoryQuotaGi
	}
	if cpuCores < 1 {
		cpuCores = 1
	}
	if memoryGi < 1 {
		memoryGi = 1
	}

	log.Infof("Cluster headroom: %d cpu, %dGi memory", cpuCores, memoryGi)
	return cpuCores, memoryGi
}

func nodePointers(nodes []v1.Node) []*v1.Node {
	result := make([]*v1.Node, 0, len(nodes))
	for i := range nodes {
		result = append(result, &nodes[i])
	}
	return result
}

// activePodPointers keeps Running and Pending pods, which is what the
// scheduler counts against node capacity.
func activePodPointers(pods []v1.Pod) []*v1.Pod {
	result := make([]*v1.Pod, 0, len(pods))
	for i := range pods {
		phase := pods[i].Status.Phase
		if phase == v1.PodRunning || phase == v1.PodPending {
			result = append(result, &pods[i])
		}
	}
	return result
}
