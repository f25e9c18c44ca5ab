package mission

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/meridian-labs/surveyor/pkg/models"
)

// Catalog answers existence questions during plan validation: agent types
// come from configuration, tool names from the live tool registry.
type Catalog interface {
	HasAgentType(name string) bool
	HasTool(ctx context.Context, name string) bool
}

// CompileError aggregates every problem found in a proposed plan. The agent
// repairing a rejected plan sees all of them in one round trip.
type CompileError struct {
	Problems []string
}

func (e *CompileError) Error() string {
	switch len(e.Problems) {
	case 0:
		return "invalid mission plan"
	case 1:
		return "invalid mission plan: " + e.Problems[0]
	default:
		return fmt.Sprintf("invalid mission plan (%d problems): %s",
			len(e.Problems), strings.Join(e.Problems, "; "))
	}
}

// InstanceTaskID returns the deterministic task id for an agent instance.
// Recompiling the same plan for the same mission yields identical ids.
func InstanceTaskID(missionID, instanceID string) string {
	return "instance::" + missionID + "::" + instanceID
}

// ReduceTaskID returns the deterministic task id for a sub-stage reduce.
func ReduceTaskID(missionID, subStageID string) string {
	return "substage_reduce::" + missionID + "::" + subStageID
}

// Task is one schedulable unit of a compiled mission. Exactly one of
// Instance or SubStage is set, matching Kind.
type Task struct {
	ID        string
	Kind      models.TaskKind
	DependsOn []string

	Instance *AgentInstance
	SubStage *SubStage
}

// TaskGraph is an immutable compiled mission: every agent instance became an
// instance task, every sub-stage a reduce task, and DependsOn encodes the
// full execution ordering. Roots are the tasks with no dependencies.
type TaskGraph struct {
	MissionID string
	Tasks     map[string]*Task
	Roots     []string
}

// TaskRows returns pending persistence rows for every task, in id order.
func (g *TaskGraph) TaskRows() []*models.MissionTask {
	rows := make([]*models.MissionTask, 0, len(g.Tasks))
	for _, t := range g.Tasks {
		rows = append(rows, &models.MissionTask{
			TaskID:    t.ID,
			MissionID: g.MissionID,
			Kind:      t.Kind,
			Status:    models.TaskPending,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].TaskID < rows[j].TaskID })
	return rows
}

// planIndex holds the resolved entity relations of a structurally valid
// plan. Built once during validation, consumed by graph construction.
type planIndex struct {
	instances map[string]*AgentInstance
	subStages map[string]*SubStage
	stages    map[string]*Stage

	// owningSubStage maps instance id to its sub-stage; owningStage maps
	// sub-stage id to its stage. Ownership is exactly-once, validated.
	owningSubStage map[string]string
	owningStage    map[string]string

	// siblingIndex is the instance's position in its owning sub-stage's
	// member list.
	siblingIndex map[string]int

	// subStageDeps is the direct dependency relation between sub-stages:
	// declared depends_on_sub_stages, every sub-stage of every stage the
	// owning stage depends on, and the previous sibling in a sequential
	// stage.
	subStageDeps map[string]map[string]bool
}

// ValidatePlan checks a plan against the structural and referential rules:
// all references resolve, every instance and sub-stage has exactly one
// owner, all three dependency relations are acyclic, each
// requires_outputs_from citation points at an instance that is guaranteed to
// finish first, and all agent types and tools exist. Returns a CompileError
// listing every problem found, or nil.
func ValidatePlan(ctx context.Context, plan *Plan, catalog Catalog) error {
	_, err := indexPlan(ctx, plan, catalog)
	return err
}

// Compile validates the plan and builds its task graph. On any validation
// failure no partial graph is returned.
func Compile(ctx context.Context, missionID string, plan *Plan, catalog Catalog) (*TaskGraph, error) {
	idx, err := indexPlan(ctx, plan, catalog)
	if err != nil {
		return nil, err
	}
	return buildGraph(missionID, plan, idx)
}

func indexPlan(ctx context.Context, plan *Plan, catalog Catalog) (*planIndex, error) {
	idx := &planIndex{
		instances:      make(map[string]*AgentInstance),
		subStages:      make(map[string]*SubStage),
		stages:         make(map[string]*Stage),
		owningSubStage: make(map[string]string),
		owningStage:    make(map[string]string),
		siblingIndex:   make(map[string]int),
		subStageDeps:   make(map[string]map[string]bool),
	}

	problems := idx.checkStructure(ctx, plan, catalog)
	if len(problems) > 0 {
		// References are unresolved; the relation checks below would
		// chase missing entities.
		return nil, &CompileError{Problems: problems}
	}

	idx.buildRelations(plan)
	problems = idx.checkRelationCycles(plan)
	if len(problems) > 0 {
		return nil, &CompileError{Problems: problems}
	}

	problems = idx.checkOutputCitations(plan)
	problems = append(problems, idx.checkInstanceCycles(plan)...)
	if len(problems) > 0 {
		return nil, &CompileError{Problems: problems}
	}
	return idx, nil
}

// checkStructure validates entity lists, field values, reference existence,
// and exactly-once ownership.
func (idx *planIndex) checkStructure(ctx context.Context, plan *Plan, catalog Catalog) []string {
	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if len(plan.AgentInstances) == 0 {
		addf("plan declares no agent_instances")
	}
	if len(plan.SubStages) == 0 {
		addf("plan declares no sub_stages")
	}
	if len(plan.Stages) == 0 {
		addf("plan declares no stages")
	}

	for i := range plan.AgentInstances {
		inst := &plan.AgentInstances[i]
		if inst.InstanceID == "" {
			addf("agent_instances[%d]: instance_id is required", i)
			continue
		}
		if _, dup := idx.instances[inst.InstanceID]; dup {
			addf("agent_instance %q: duplicate instance_id", inst.InstanceID)
			continue
		}
		idx.instances[inst.InstanceID] = inst

		if inst.AgentType == "" {
			addf("agent_instance %q: agent_type is required", inst.InstanceID)
		} else if !catalog.HasAgentType(inst.AgentType) {
			addf("agent_instance %q: unknown agent_type %q", inst.InstanceID, inst.AgentType)
		}
		if len(inst.Objectives) == 0 {
			addf("agent_instance %q: objectives are required", inst.InstanceID)
		}
		for _, tool := range inst.AllowedTools {
			if !catalog.HasTool(ctx, tool) {
				addf("agent_instance %q: unknown tool %q in allowed_tools", inst.InstanceID, tool)
			}
		}
		if inst.MaxSteps < 0 {
			addf("agent_instance %q: max_steps must not be negative", inst.InstanceID)
		}
		if inst.TimeoutSeconds < 0 {
			addf("agent_instance %q: timeout_seconds must not be negative", inst.InstanceID)
		}
		if inst.MaxAttempts < 0 {
			addf("agent_instance %q: max_attempts must not be negative", inst.InstanceID)
		}
	}

	for i := range plan.SubStages {
		ss := &plan.SubStages[i]
		if ss.SubStageID == "" {
			addf("sub_stages[%d]: sub_stage_id is required", i)
			continue
		}
		if _, dup := idx.subStages[ss.SubStageID]; dup {
			addf("sub_stage %q: duplicate sub_stage_id", ss.SubStageID)
			continue
		}
		idx.subStages[ss.SubStageID] = ss

		if !ss.ExecutionMode.Valid() {
			addf("sub_stage %q: unknown execution_mode %q", ss.SubStageID, ss.ExecutionMode)
		}
		if !ss.OutputAggregation.Valid() {
			addf("sub_stage %q: unknown output_aggregation %q", ss.SubStageID, ss.OutputAggregation)
		}
		if len(ss.AgentInstances) == 0 {
			addf("sub_stage %q: has no agent instances", ss.SubStageID)
		}
		seen := make(map[string]bool, len(ss.AgentInstances))
		for pos, ref := range ss.AgentInstances {
			if _, ok := idx.instances[ref]; !ok {
				addf("sub_stage %q: unknown instance %q", ss.SubStageID, ref)
				continue
			}
			if seen[ref] {
				addf("sub_stage %q: instance %q listed twice", ss.SubStageID, ref)
				continue
			}
			seen[ref] = true
			if owner, owned := idx.owningSubStage[ref]; owned {
				addf("instance %q: belongs to both sub_stage %q and sub_stage %q", ref, owner, ss.SubStageID)
				continue
			}
			idx.owningSubStage[ref] = ss.SubStageID
			idx.siblingIndex[ref] = pos
		}
	}

	for i := range plan.Stages {
		st := &plan.Stages[i]
		if st.StageID == "" {
			addf("stages[%d]: stage_id is required", i)
			continue
		}
		if _, dup := idx.stages[st.StageID]; dup {
			addf("stage %q: duplicate stage_id", st.StageID)
			continue
		}
		idx.stages[st.StageID] = st

		if !st.ExecutionMode.Valid() {
			addf("stage %q: unknown execution_mode %q", st.StageID, st.ExecutionMode)
		}
		if len(st.SubStages) == 0 {
			addf("stage %q: has no sub_stages", st.StageID)
		}
		seen := make(map[string]bool, len(st.SubStages))
		for _, ref := range st.SubStages {
			if _, ok := idx.subStages[ref]; !ok {
				addf("stage %q: unknown sub_stage %q", st.StageID, ref)
				continue
			}
			if seen[ref] {
				addf("stage %q: sub_stage %q listed twice", st.StageID, ref)
				continue
			}
			seen[ref] = true
			if owner, owned := idx.owningStage[ref]; owned {
				addf("sub_stage %q: belongs to both stage %q and stage %q", ref, owner, st.StageID)
				continue
			}
			idx.owningStage[ref] = st.StageID
		}
	}

	// Dangling references in dependency and citation lists.
	for _, ss := range plan.SubStages {
		for _, dep := range ss.DependsOnSubStages {
			if _, ok := idx.subStages[dep]; !ok {
				addf("sub_stage %q: unknown sub_stage %q in depends_on_sub_stages", ss.SubStageID, dep)
			}
		}
	}
	for _, st := range plan.Stages {
		for _, dep := range st.DependsOnStages {
			if _, ok := idx.stages[dep]; !ok {
				addf("stage %q: unknown stage %q in depends_on_stages", st.StageID, dep)
			}
		}
	}
	for _, inst := range plan.AgentInstances {
		for _, cited := range inst.RequiresOutputsFrom {
			if _, ok := idx.instances[cited]; !ok {
				addf("agent_instance %q: unknown instance %q in requires_outputs_from", inst.InstanceID, cited)
			}
		}
	}

	// Every instance must sit in exactly one sub-stage, every sub-stage in
	// exactly one stage; otherwise "owning" is undefined and the dependency
	// rules cannot apply.
	for _, inst := range plan.AgentInstances {
		if inst.InstanceID == "" {
			continue
		}
		if _, owned := idx.owningSubStage[inst.InstanceID]; !owned {
			addf("agent_instance %q: not assigned to any sub_stage", inst.InstanceID)
		}
	}
	for _, ss := range plan.SubStages {
		if ss.SubStageID == "" {
			continue
		}
		if _, owned := idx.owningStage[ss.SubStageID]; !owned {
			addf("sub_stage %q: not assigned to any stage", ss.SubStageID)
		}
	}

	return problems
}

// buildRelations computes the direct sub-stage dependency relation. Three
// sources contribute edges: declared depends_on_sub_stages, stage-level
// depends_on_stages (every sub-stage of a dependency stage), and sequential
// stage mode (each sub-stage waits for its previous sibling).
func (idx *planIndex) buildRelations(plan *Plan) {
	for _, ss := range plan.SubStages {
		deps := make(map[string]bool)
		for _, dep := range ss.DependsOnSubStages {
			deps[dep] = true
		}
		idx.subStageDeps[ss.SubStageID] = deps
	}

	for _, st := range plan.Stages {
		for _, dep := range st.DependsOnStages {
			depStage := idx.stages[dep]
			for _, member := range st.SubStages {
				for _, depSS := range depStage.SubStages {
					idx.subStageDeps[member][depSS] = true
				}
			}
		}
		if st.ExecutionMode == ExecutionSequential {
			for i := 1; i < len(st.SubStages); i++ {
				idx.subStageDeps[st.SubStages[i]][st.SubStages[i-1]] = true
			}
		}
	}
}

func (idx *planIndex) checkRelationCycles(plan *Plan) []string {
	var problems []string

	stageOrder := make([]string, 0, len(plan.Stages))
	for _, st := range plan.Stages {
		stageOrder = append(stageOrder, st.StageID)
	}
	if cycle := findCycle(stageOrder, func(id string) []string {
		return sortedKeys(toSet(idx.stages[id].DependsOnStages))
	}); cycle != nil {
		problems = append(problems, "dependency cycle between stages: "+strings.Join(cycle, " -> "))
	}

	subStageOrder := make([]string, 0, len(plan.SubStages))
	for _, ss := range plan.SubStages {
		subStageOrder = append(subStageOrder, ss.SubStageID)
	}
	if cycle := findCycle(subStageOrder, func(id string) []string {
		return sortedKeys(idx.subStageDeps[id])
	}); cycle != nil {
		problems = append(problems, "dependency cycle between sub_stages: "+strings.Join(cycle, " -> "))
	}

	return problems
}

// checkOutputCitations enforces the requires_outputs_from admissibility
// rule: the cited instance's sub-stage must be a (transitive) dependency of
// the citing instance's sub-stage, or an earlier sibling in the same
// sequential sub-stage. Anything else could run concurrently with the citer,
// so the cited output would not be guaranteed to exist.
func (idx *planIndex) checkOutputCitations(plan *Plan) []string {
	var problems []string
	closure := transitiveClosure(idx.subStageDeps)

	for _, inst := range plan.AgentInstances {
		citer := inst.InstanceID
		citerSS := idx.owningSubStage[citer]
		for _, cited := range inst.RequiresOutputsFrom {
			if cited == citer {
				problems = append(problems,
					fmt.Sprintf("agent_instance %q: requires_outputs_from cites itself", citer))
				continue
			}
			citedSS := idx.owningSubStage[cited]
			if citedSS == citerSS {
				if idx.subStages[citerSS].ExecutionMode != ExecutionSequential {
					problems = append(problems, fmt.Sprintf(
						"agent_instance %q: cites sibling %q, but sub_stage %q is not sequential",
						citer, cited, citerSS))
				} else if idx.siblingIndex[cited] >= idx.siblingIndex[citer] {
					problems = append(problems, fmt.Sprintf(
						"agent_instance %q: cites later sibling %q; sequential sub-stages may only cite earlier siblings",
						citer, cited))
				}
				continue
			}
			if !closure[citerSS][citedSS] {
				problems = append(problems, fmt.Sprintf(
					"agent_instance %q: cites %q in sub_stage %q, which is not a dependency of sub_stage %q",
					citer, cited, citedSS, citerSS))
			}
		}
	}
	return problems
}

// checkInstanceCycles detects cycles through requires_outputs_from plus the
// implicit sequential sibling chain.
func (idx *planIndex) checkInstanceCycles(plan *Plan) []string {
	edges := make(map[string][]string, len(plan.AgentInstances))
	order := make([]string, 0, len(plan.AgentInstances))
	for _, inst := range plan.AgentInstances {
		order = append(order, inst.InstanceID)
		deps := toSet(inst.RequiresOutputsFrom)
		ss := idx.subStages[idx.owningSubStage[inst.InstanceID]]
		if ss.ExecutionMode == ExecutionSequential {
			if pos := idx.siblingIndex[inst.InstanceID]; pos > 0 {
				deps[ss.AgentInstances[pos-1]] = true
			}
		}
		edges[inst.InstanceID] = sortedKeys(deps)
	}

	if cycle := findCycle(order, func(id string) []string { return edges[id] }); cycle != nil {
		return []string{"dependency cycle through requires_outputs_from: " + strings.Join(cycle, " -> ")}
	}
	return nil
}

// buildGraph constructs the task graph from a validated plan.
//
// Instance task dependencies are the union of: the reduce of every direct
// dependency sub-stage, the instance tasks cited in requires_outputs_from,
// and (in a sequential sub-stage) the previous sibling's instance task.
// Reduce task dependencies are the sub-stage's member instance tasks.
func buildGraph(missionID string, plan *Plan, idx *planIndex) (*TaskGraph, error) {
	g := &TaskGraph{
		MissionID: missionID,
		Tasks:     make(map[string]*Task, len(plan.AgentInstances)+len(plan.SubStages)),
	}

	for i := range plan.AgentInstances {
		inst := &plan.AgentInstances[i]
		deps := make(map[string]bool)
		for depSS := range idx.subStageDeps[idx.owningSubStage[inst.InstanceID]] {
			deps[ReduceTaskID(missionID, depSS)] = true
		}
		for _, cited := range inst.RequiresOutputsFrom {
			deps[InstanceTaskID(missionID, cited)] = true
		}
		ss := idx.subStages[idx.owningSubStage[inst.InstanceID]]
		if ss.ExecutionMode == ExecutionSequential {
			if pos := idx.siblingIndex[inst.InstanceID]; pos > 0 {
				deps[InstanceTaskID(missionID, ss.AgentInstances[pos-1])] = true
			}
		}
		id := InstanceTaskID(missionID, inst.InstanceID)
		g.Tasks[id] = &Task{
			ID:        id,
			Kind:      models.TaskKindInstance,
			DependsOn: sortedKeys(deps),
			Instance:  inst,
		}
	}

	for i := range plan.SubStages {
		ss := &plan.SubStages[i]
		deps := make(map[string]bool, len(ss.AgentInstances))
		for _, member := range ss.AgentInstances {
			deps[InstanceTaskID(missionID, member)] = true
		}
		id := ReduceTaskID(missionID, ss.SubStageID)
		g.Tasks[id] = &Task{
			ID:        id,
			Kind:      models.TaskKindReduce,
			DependsOn: sortedKeys(deps),
			SubStage:  ss,
		}
	}

	for id, t := range g.Tasks {
		if len(t.DependsOn) == 0 {
			g.Roots = append(g.Roots, id)
		}
	}
	sort.Strings(g.Roots)

	if err := verifyAcyclic(g); err != nil {
		return nil, err
	}
	return g, nil
}

// verifyAcyclic runs a final topological check over the built graph. The
// relation checks above make a failure here unreachable; if it fires anyway,
// compilation aborts rather than handing the scheduler a graph that can
// never drain.
func verifyAcyclic(g *TaskGraph) error {
	indegree := make(map[string]int, len(g.Tasks))
	dependents := make(map[string][]string, len(g.Tasks))
	for id, t := range g.Tasks {
		indegree[id] = len(t.DependsOn)
		for _, dep := range t.DependsOn {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	queue := append([]string(nil), g.Roots...)
	processed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		processed++
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	if processed != len(g.Tasks) {
		return fmt.Errorf("compiled task graph is not acyclic: %d of %d tasks reachable", processed, len(g.Tasks))
	}
	return nil
}

// transitiveClosure expands a direct dependency relation to all reachable
// nodes. The relation must be acyclic.
func transitiveClosure(direct map[string]map[string]bool) map[string]map[string]bool {
	closure := make(map[string]map[string]bool, len(direct))
	var expand func(id string) map[string]bool
	expand = func(id string) map[string]bool {
		if done, ok := closure[id]; ok {
			return done
		}
		all := make(map[string]bool)
		closure[id] = all
		for dep := range direct[id] {
			all[dep] = true
			for indirect := range expand(dep) {
				all[indirect] = true
			}
		}
		return all
	}
	for id := range direct {
		expand(id)
	}
	return closure
}

// findCycle walks the relation depth-first in the given node order and
// returns the first cycle found as a path (first node repeated at the end),
// or nil. Deterministic node and edge order keeps the reported path stable.
func findCycle(order []string, next func(string) []string) []string {
	const (
		unvisited = iota
		inProgress
		done
	)
	color := make(map[string]int, len(order))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = inProgress
		stack = append(stack, id)
		for _, dep := range next(id) {
			switch color[dep] {
			case inProgress:
				start := 0
				for i, s := range stack {
					if s == dep {
						start = i
						break
					}
				}
				cycle = append(append([]string(nil), stack[start:]...), dep)
				return true
			case unvisited:
				if visit(dep) {
					return true
				}
			}
		}
		color[id] = done
		stack = stack[:len(stack)-1]
		return false
	}

	for _, id := range order {
		if color[id] == unvisited && visit(id) {
			return cycle
		}
	}
	return nil
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
