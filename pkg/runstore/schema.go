package runstore

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by run name to enable
// multiple bandscan runs to safely coexist on a single Redis server.
//
// Key pattern: bandscan:{run_name}:{entity}...
// Channel pattern: bandscan:{run_name}:{event_type}_events

// StageKey returns the Redis key for one stage record.
// Pattern: bandscan:{run_name}:stage:{stage_name}
func StageKey(runName, stageName string) string {
	return fmt.Sprintf("bandscan:%s:stage:%s", runName, stageName)
}

// StageIndexKey returns the Redis key for the set of stage names seen so far.
// Pattern: bandscan:{run_name}:stages
func StageIndexKey(runName string) string {
	return fmt.Sprintf("bandscan:%s:stages", runName)
}

// CheckpointKey returns the Redis key for one iteration's refinement-state
// checkpoint.
// Pattern: bandscan:{run_name}:checkpoint:{iteration}
func CheckpointKey(runName string, iteration int) string {
	return fmt.Sprintf("bandscan:%s:checkpoint:%d", runName, iteration)
}

// CheckpointIndexKey returns the Redis key for the checkpoint tracking ZSET,
// scored by iteration so the latest checkpoint is one ZREVRANGE away.
// Pattern: bandscan:{run_name}:checkpoints
func CheckpointIndexKey(runName string) string {
	return fmt.Sprintf("bandscan:%s:checkpoints", runName)
}

// CrossingsKey returns the Redis key for the final crossing set.
// Pattern: bandscan:{run_name}:crossings
func CrossingsKey(runName string) string {
	return fmt.Sprintf("bandscan:%s:crossings", runName)
}

// IterationEventsChannel returns the Pub/Sub channel name for iteration
// events.
// Pattern: bandscan:{run_name}:iteration_events
func IterationEventsChannel(runName string) string {
	return fmt.Sprintf("bandscan:%s:iteration_events", runName)
}
