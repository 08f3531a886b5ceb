package batch

import (
	"github.com/roach88/quakerun/internal/ir"
	"github.com/roach88/quakerun/internal/params"
)

// Parameter keys that override scheduler resources for one swarm.
const (
	ParamPipelinePartition   = "pipeline_partition_string"
	ParamPipelineTime        = "pipeline_time"
	ParamRelocationPartition = "relocation_partition_string"
	ParamRelocationTime      = "relocation_time"
)

// Defaults are the configured resources per job family.
type Defaults struct {
	Pipeline   Resources
	Relocation Resources
}

// For returns the resources of a kind-job, letting the run's parameters
// override the configured defaults.
func (d Defaults) For(kind JobKind, p ir.ParameterSet) Resources {
	if kind == JobRelocate {
		return Resources{
			Partition: override(p, ParamRelocationPartition, d.Relocation.Partition),
			Time:      override(p, ParamRelocationTime, d.Relocation.Time),
		}
	}
	return Resources{
		Partition: override(p, ParamPipelinePartition, d.Pipeline.Partition),
		Time:      override(p, ParamPipelineTime, d.Pipeline.Time),
	}
}

func override(p ir.ParameterSet, key, def string) string {
	if v := params.StringOr(p, key, ""); v != "" {
		return v
	}
	return def
}
