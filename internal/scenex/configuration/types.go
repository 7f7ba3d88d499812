package configuration

import "time"

type RelayConfiguration struct {
	// Name of the long-lived relay pod providing shared storage access.
	PodName string
	// Name of the PVC backing the relay's shared volume.
	PvcName string
	// Root of the shared volume inside the relay pod.
	ExportRoot string
	// Container serving the shared volume, used for remote exec.
	Container string
	// Port of the HTTP sidecar serving archives with byte-range support.
	HttpPort int
}

type TransferConfiguration struct {
	// Upper bound on one archive download. Proportional to archive size,
	// so generous by default.
	DownloadTimeout time.Duration
	// Number of runs downloaded and extracted in parallel.
	WorkerCount int
	// Attempts per run before a retryable transfer failure is surfaced.
	DownloadRetries uint
}

type QueueConfiguration struct {
	Namespace        string
	LocalQueueName   string
	ClusterQueueName string
}

type ClusterConfiguration struct {
	// Storage strategy name, one of the registered flavors.
	Flavor string
	// Size of the relay's backing volume for flavors that provision one.
	StorageSize string
	// Storage class used by the managed-disk flavor.
	StorageClassName string
	// Node directory backing the relay volume for the host-path flavor.
	HostPath string
	// Address and export path of a pre-existing NFS server for the
	// external flavor.
	NfsServer string
	NfsPath   string
}

type ExecutionConfiguration struct {
	Namespace string
	// Path to the workload template document expanded per job.
	ManifestPath string
	// Gitignore-like patterns selecting auxiliary scenario files.
	ScenarioFileFilter []string
	// Gitignore-like patterns selecting per-variant files.
	VariantFileFilter []string
	// Directory of files staged into every scenario bundle.
	CommonFilesDir string
	PollInterval   time.Duration
}

type ScenexConfiguration struct {
	Execution ExecutionConfiguration
	Relay     RelayConfiguration
	Transfer  TransferConfiguration
	Queue     QueueConfiguration
	Cluster   ClusterConfiguration
}

func (c *ScenexConfiguration) ApplyDefaults() {
	if c.Execution.Namespace == "" {
		c.Execution.Namespace = "default"
	}
	if c.Execution.PollInterval == 0 {
		c.Execution.PollInterval = 10 * time.Second
	}
	if c.Relay.PodName == "" {
		c.Relay.PodName = "nfs-server"
	}
	if c.Relay.PvcName == "" {
		c.Relay.PvcName = "transfer-pvc"
	}
	if c.Relay.ExportRoot == "" {
		c.Relay.ExportRoot = "/exports"
	}
	if c.Relay.Container == "" {
		c.Relay.Container = "nfs-server"
	}
	if c.Relay.HttpPort == 0 {
		c.Relay.HttpPort = 80
	}
	if c.Transfer.DownloadTimeout == 0 {
		c.Transfer.DownloadTimeout = 10 * time.Minute
	}
	if c.Transfer.WorkerCount == 0 {
		c.Transfer.WorkerCount = 4
	}
	if c.Transfer.DownloadRetries == 0 {
		c.Transfer.DownloadRetries = 3
	}
	if c.Queue.Namespace == "" {
		c.Queue.Namespace = c.Execution.Namespace
	}
	if c.Queue.LocalQueueName == "" {
		c.Queue.LocalQueueName = "scenex"
	}
	if c.Queue.ClusterQueueName == "" {
		c.Queue.ClusterQueueName = "scenex-cluster-queue"
	}
	if c.Cluster.Flavor == "" {
		c.Cluster.Flavor = "managed-disk"
	}
	if c.Cluster.StorageSize == "" {
		c.Cluster.StorageSize = "10Gi"
	}
	if c.Cluster.StorageClassName == "" {
		c.Cluster.StorageClassName = "managed-csi"
	}
	if c.Cluster.HostPath == "" {
		c.Cluster.HostPath = "/transfer"
	}
	if c.Cluster.NfsPath == "" {
		c.Cluster.NfsPath = "/"
	}
}
