package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	v1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
)

func TestTotalPodResourceRequest_SumsContainers(t *testing.T) {
	podSpec := &v1.PodSpec{
		Containers: []v1.Container{
			makeContainer("1", "1Gi"),
			makeContainer("2", "2Gi"),
		},
	}

	result := TotalPodResourceRequest(podSpec)

	expectedCpu := resource.MustParse("3")
	expectedMemory := resource.MustParse("3Gi")
	assert.True(t, result["cpu"].Equal(expectedCpu))
	assert.True(t, result["memory"].Equal(expectedMemory))
}

func TestTotalPodResourceRequest_TakesMaxOfInitContainers(t *testing.T) {
	podSpec := &v1.PodSpec{
		Containers: []v1.Container{
			makeContainer("1", "1Gi"),
		},
		InitContainers: []v1.Container{
			makeContainer("4", "512Mi"),
			makeContainer("2", "8Gi"),
		},
	}

	result := TotalPodResourceRequest(podSpec)

	expectedCpu := resource.MustParse("4")
	expectedMemory := resource.MustParse("8Gi")
	assert.True(t, result["cpu"].Equal(expectedCpu))
	assert.True(t, result["memory"].Equal(expectedMemory))
}

func TestCalculateTotalResource_SumsNodeAllocatable(t *testing.T) {
	node1 := makeNodeWithAllocatable("8", "32Gi")
	node2 := makeNodeWithAllocatable("4", "16Gi")

	result := CalculateTotalResource([]*v1.Node{node1, node2})

	expectedCpu := resource.MustParse("12")
	expectedMemory := resource.MustParse("48Gi")
	assert.True(t, result["cpu"].Equal(expectedCpu))
	assert.True(t, result["memory"].Equal(expectedMemory))
}

func TestComputeResources_SubIntoNegative(t *testing.T) {
	a := ComputeResources{"cpu": resource.MustParse("1")}
	b := ComputeResources{"cpu": resource.MustParse("2")}

	a.Sub(b)

	cpu := a["cpu"]
	assert.Equal(t, int64(-1), cpu.Value())
}

func makeContainer(cpu string, memory string) v1.Container {
	return v1.Container{
		Resources: v1.ResourceRequirements{
			Requests: v1.ResourceList{
				v1.ResourceCPU:    resource.MustParse(cpu),
				v1.ResourceMemory: resource.MustParse(memory),
			},
		},
	}
}

func makeNodeWithAllocatable(cpu string, memory string) *v1.Node {
	return &v1.Node{
		Status: v1.NodeStatus{
			Allocatable: v1.ResourceList{
				v1.ResourceCPU:    resource.MustParse(cpu),
				v1.ResourceMemory: resource.MustParse(memory),
			},
		},
	}
}
