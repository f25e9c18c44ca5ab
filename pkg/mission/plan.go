// Package mission compiles approved research plans into task graphs and
// drives them to completion: a per-mission scheduler goroutine admits tasks
// whose dependencies have succeeded, a bounded worker pool executes agent
// instances and sub-stage reducers, and an orchestrator caps how many
// missions run at once.
package mission

// ExecutionMode controls how sibling entries of a grouping run relative to
// each other. Parallel siblings are independent; sequential siblings are
// chained in list order.
type ExecutionMode string

const (
	ExecutionParallel   ExecutionMode = "parallel"
	ExecutionSequential ExecutionMode = "sequential"
)

// Valid reports whether the mode is a known value. Empty is valid and
// resolves to parallel.
func (m ExecutionMode) Valid() bool {
	return m == "" || m == ExecutionParallel || m == ExecutionSequential
}

// Aggregation selects how a sub-stage's reduce task combines the outputs of
// its member instances.
type Aggregation string

const (
	// AggregationMergeAll concatenates member outputs preserving instance
	// order.
	AggregationMergeAll Aggregation = "merge_all"

	// AggregationBestOf carries through the single output a scorer ranks
	// highest.
	AggregationBestOf Aggregation = "best_of"

	// AggregationConsensus keeps findings a majority of members agree on.
	AggregationConsensus Aggregation = "consensus"
)

// Valid reports whether the aggregation is a known value. Empty is valid and
// resolves to merge_all.
func (a Aggregation) Valid() bool {
	return a == "" || a == AggregationMergeAll || a == AggregationBestOf || a == AggregationConsensus
}

// AgentInstance declares one research agent run: what it investigates, what
// it may touch, and whose outputs it consumes.
type AgentInstance struct {
	InstanceID  string   `json:"instance_id"`
	AgentType   string   `json:"agent_type"`
	Objectives  []string `json:"objectives"`
	SeedContext string   `json:"seed_context,omitempty"`

	// StarterSources are URLs fetched up front and prepended to the seed
	// context.
	StarterSources []string `json:"starter_sources,omitempty"`

	// AllowedTools is the tool allowlist for this instance. Empty means the
	// instance runs without tools.
	AllowedTools []string `json:"allowed_tools,omitempty"`

	// RequiresOutputsFrom names instances whose output records this
	// instance receives as previous outputs. Each cited instance must
	// belong to a dependency sub-stage, or be an earlier sibling in a
	// sequential sub-stage.
	RequiresOutputsFrom []string `json:"requires_outputs_from,omitempty"`

	// MaxSteps bounds the instance's reasoning/tool loop. Zero falls back
	// to the agent type's configured default.
	MaxSteps int `json:"max_steps,omitempty"`

	// TimeoutSeconds bounds wall-clock execution per attempt. Zero falls
	// back to the configured mission default.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`

	// MaxAttempts is the retry budget for this instance. Zero falls back to
	// the configured mission default. Reduce tasks are never retried.
	MaxAttempts int `json:"max_attempts,omitempty"`
}

// SubStage groups instances behind a shared reduce barrier. The reduce task
// runs once every member instance has succeeded and stores its combined
// output under the sub-stage id.
type SubStage struct {
	SubStageID string `json:"sub_stage_id"`

	// AgentInstances lists member instance ids in order. Order is
	// significant: it fixes reduce input order and, in sequential mode, the
	// execution chain.
	AgentInstances []string `json:"agent_instances"`

	ExecutionMode ExecutionMode `json:"execution_mode,omitempty"`

	// DependsOnSubStages lists sub-stages whose reduces must succeed before
	// any member instance of this sub-stage starts.
	DependsOnSubStages []string `json:"depends_on_sub_stages,omitempty"`

	OutputAggregation Aggregation `json:"output_aggregation,omitempty"`
}

// Stage groups sub-stages. A stage depending on another waits for every
// reduce of the other stage's sub-stages.
type Stage struct {
	StageID string `json:"stage_id"`

	// SubStages lists member sub-stage ids in order. In sequential mode
	// each sub-stage waits for the previous one's reduce.
	SubStages []string `json:"sub_stages"`

	ExecutionMode ExecutionMode `json:"execution_mode,omitempty"`

	DependsOnStages []string `json:"depends_on_stages,omitempty"`
}

// Plan is the approved research mission literal: a DAG described by three
// entity lists. Plans arrive as the arguments of an approved
// create_research_plan tool call and are immutable once compiled.
type Plan struct {
	// Title is a short human-readable mission summary.
	Title string `json:"title,omitempty"`

	AgentInstances []AgentInstance `json:"agent_instances"`
	SubStages      []SubStage      `json:"sub_stages"`
	Stages         []Stage         `json:"stages"`

	// FailFast overrides the configured fail-fast default when set. When
	// fail-fast is on, any terminal task failure cancels every task that
	// has not started and fails the mission.
	FailFast *bool `json:"fail_fast,omitempty"`
}

// ResolveFailFast returns the plan's fail-fast setting, falling back to the
// given default when the plan does not say.
func (p *Plan) ResolveFailFast(def bool) bool {
	if p.FailFast == nil {
		return def
	}
	return *p.FailFast
}
