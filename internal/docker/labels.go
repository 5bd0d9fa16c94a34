package docker

import (
	"fmt"

	"github.com/google/uuid"
)

// Label keys used for bandscan resources
const (
	LabelProject   = "bandscan.project"
	LabelRunName   = "bandscan.run.name"
	LabelRunID     = "bandscan.run.id"
	LabelComponent = "bandscan.component"
	LabelJobID     = "bandscan.job.id"
	LabelJobMode   = "bandscan.job.mode"
	LabelRedisPort = "bandscan.redis.port"
)

// BuildLabels creates the standard label set for all bandscan resources.
// Component identifies what the container is ("solver", "redis"); jobs add
// their own job labels on top.
func BuildLabels(runName, runID, component string) map[string]string {
	labels := map[string]string{
		LabelProject: "true",
		LabelRunName: runName,
		LabelRunID:   runID,
	}

	if component != "" {
		labels[LabelComponent] = component
	}

	return labels
}

// GenerateRunID creates a new UUID for a pipeline run.
func GenerateRunID() string {
	return uuid.New().String()
}

// Resource naming conventions for bandscan containers

// RedisContainerName returns the Redis container name for a run
func RedisContainerName(runName string) string {
	return fmt.Sprintf("bandscan-redis-%s", runName)
}

// SolverContainerName returns the solver container name for a job
func SolverContainerName(runName, jobID string) string {
	return fmt.Sprintf("bandscan-solver-%s-%s", runName, jobID)
}
