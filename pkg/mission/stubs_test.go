package mission

import (
	"context"
	"fmt"
	"sync"

	"github.com/meridian-labs/surveyor/pkg/events"
	"github.com/meridian-labs/surveyor/pkg/models"
	"github.com/meridian-labs/surveyor/pkg/runtime"
	"github.com/meridian-labs/surveyor/pkg/services"
)

// stubCatalog answers agent-type and tool existence from fixed sets.
type stubCatalog struct {
	agentTypes map[string]bool
	tools      map[string]bool
}

func newStubCatalog() stubCatalog {
	return stubCatalog{
		agentTypes: map[string]bool{"research": true, "analysis": true},
		tools:      map[string]bool{"web.search": true, "web.fetch": true, "filesystem.write_file": true},
	}
}

func (c stubCatalog) HasAgentType(name string) bool { return c.agentTypes[name] }

func (c stubCatalog) HasTool(_ context.Context, name string) bool { return c.tools[name] }

// memoryMissionStore records mission and task transitions in memory.
type memoryMissionStore struct {
	mu          sync.Mutex
	missions    map[string]*models.Mission
	tasks       map[string]map[string]*models.MissionTask
	transitions []string // "taskID status" in arrival order

	recordTasksErr error
	markRunningErr error
}

func newMemoryMissionStore() *memoryMissionStore {
	return &memoryMissionStore{
		missions: make(map[string]*models.Mission),
		tasks:    make(map[string]map[string]*models.MissionTask),
	}
}

func (m *memoryMissionStore) CreateMission(_ context.Context, req models.CreateMissionRequest) (*models.Mission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mission := &models.Mission{
		ID:       req.MissionID,
		ThreadID: req.ThreadID,
		Status:   models.MissionPending,
		FailFast: req.FailFast,
		Plan:     req.Plan,
	}
	m.missions[req.MissionID] = mission
	return mission, nil
}

func (m *memoryMissionStore) MarkMissionRunning(_ context.Context, missionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markRunningErr != nil {
		return m.markRunningErr
	}
	if mission, ok := m.missions[missionID]; ok {
		mission.Status = models.MissionRunning
	} else {
		m.missions[missionID] = &models.Mission{ID: missionID, Status: models.MissionRunning}
	}
	return nil
}

func (m *memoryMissionStore) CompleteMission(_ context.Context, missionID string, status models.MissionStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mission, ok := m.missions[missionID]
	if !ok {
		mission = &models.Mission{ID: missionID}
		m.missions[missionID] = mission
	}
	mission.Status = status
	mission.Error = errMsg
	return nil
}

func (m *memoryMissionStore) RecordTasks(_ context.Context, missionID string, tasks []*models.MissionTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordTasksErr != nil {
		return m.recordTasksErr
	}
	rows := make(map[string]*models.MissionTask, len(tasks))
	for _, t := range tasks {
		cp := *t
		rows[t.TaskID] = &cp
	}
	m.tasks[missionID] = rows
	return nil
}

func (m *memoryMissionStore) UpdateTaskStatus(_ context.Context, missionID, taskID string, status models.TaskStatus, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.tasks[missionID]
	if !ok {
		return fmt.Errorf("mission %s: %w", missionID, services.ErrNotFound)
	}
	row, ok := rows[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, services.ErrNotFound)
	}
	row.Status = status
	if status == models.TaskRunning {
		row.Attempts++
	}
	if reason != "" {
		row.Reason = reason
	}
	m.transitions = append(m.transitions, taskID+" "+string(status))
	return nil
}

func (m *memoryMissionStore) missionStatus(missionID string) models.MissionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mission, ok := m.missions[missionID]; ok {
		return mission.Status
	}
	return ""
}

func (m *memoryMissionStore) missionError(missionID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mission, ok := m.missions[missionID]; ok {
		return mission.Error
	}
	return ""
}

func (m *memoryMissionStore) taskRow(missionID, taskID string) models.MissionTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.tasks[missionID][taskID]; ok {
		return *row
	}
	return models.MissionTask{}
}

func (m *memoryMissionStore) missionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.missions)
}

// memoryOutputStore keeps output records in memory. dropKeys simulates lost
// writes: a PutOutput for a dropped key reports success without storing.
type memoryOutputStore struct {
	mu       sync.Mutex
	data     map[string]map[string]*models.OutputRecord
	dropKeys map[string]bool
}

func newMemoryOutputStore() *memoryOutputStore {
	return &memoryOutputStore{
		data:     make(map[string]map[string]*models.OutputRecord),
		dropKeys: make(map[string]bool),
	}
}

func (o *memoryOutputStore) PutOutput(_ context.Context, missionID, key string, record *models.OutputRecord) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.dropKeys[key] {
		return nil
	}
	if o.data[missionID] == nil {
		o.data[missionID] = make(map[string]*models.OutputRecord)
	}
	o.data[missionID][key] = record
	return nil
}

func (o *memoryOutputStore) GetOutputs(_ context.Context, missionID string, keys []string) (map[string]*models.OutputRecord, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]*models.OutputRecord, len(keys))
	for _, key := range keys {
		record, ok := o.data[missionID][key]
		if !ok {
			return nil, fmt.Errorf("output %s/%s: %w", missionID, key, services.ErrNotFound)
		}
		out[key] = record
	}
	return out, nil
}

func (o *memoryOutputStore) get(missionID, key string) *models.OutputRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.data[missionID][key]
}

// recordingSink captures published events in arrival order.
type recordingSink struct {
	mu      sync.Mutex
	mission []events.MissionStatusPayload
	task    []events.TaskStatusPayload
}

func newRecordingSink() *recordingSink { return &recordingSink{} }

func (s *recordingSink) PublishMissionStatus(_ context.Context, payload events.MissionStatusPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mission = append(s.mission, payload)
	return nil
}

func (s *recordingSink) PublishTaskStatus(_ context.Context, payload events.TaskStatusPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.task = append(s.task, payload)
	return nil
}

func (s *recordingSink) missionTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.mission))
	for i, p := range s.mission {
		out[i] = p.Type
	}
	return out
}

func (s *recordingSink) missionTypesFor(missionID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, p := range s.mission {
		if p.MissionID == missionID {
			out = append(out, p.Type)
		}
	}
	return out
}

func (s *recordingSink) taskEvents(eventType, taskID string) []events.TaskStatusPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.TaskStatusPayload
	for _, p := range s.task {
		if p.Type == eventType && (taskID == "" || p.TaskID == taskID) {
			out = append(out, p)
		}
	}
	return out
}

// instanceResult is one scripted attempt outcome for an instance.
type instanceResult struct {
	record *models.OutputRecord
	err    error
}

// scriptedRunner implements InstanceRunner from per-instance scripts. With
// no script and no handler, an instance succeeds with a canned record.
type scriptedRunner struct {
	mu      sync.Mutex
	script  map[string][]instanceResult
	handler func(ctx context.Context, input *runtime.TaskInput) (*models.OutputRecord, error)
	inputs  []*runtime.TaskInput
	current int
	peak    int
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{script: make(map[string][]instanceResult)}
}

func (r *scriptedRunner) addResult(instanceID string, record *models.OutputRecord, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.script[instanceID] = append(r.script[instanceID], instanceResult{record: record, err: err})
}

func (r *scriptedRunner) RunInstance(ctx context.Context, input *runtime.TaskInput) (*models.OutputRecord, error) {
	r.mu.Lock()
	r.inputs = append(r.inputs, input)
	r.current++
	if r.current > r.peak {
		r.peak = r.current
	}
	var res *instanceResult
	if entries := r.script[input.InstanceID]; len(entries) > 0 {
		res = &entries[0]
		r.script[input.InstanceID] = entries[1:]
	}
	handler := r.handler
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.current--
		r.mu.Unlock()
	}()

	if res != nil {
		return res.record, res.err
	}
	if handler != nil {
		return handler(ctx, input)
	}
	return cannedRecord(input.InstanceID), nil
}

func (r *scriptedRunner) concurrent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *scriptedRunner) peakConcurrent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peak
}

func (r *scriptedRunner) instanceOrder() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.inputs))
	for i, in := range r.inputs {
		out[i] = in.InstanceID
	}
	return out
}

func (r *scriptedRunner) inputFor(instanceID string) *runtime.TaskInput {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, in := range r.inputs {
		if in.InstanceID == instanceID {
			return in
		}
	}
	return nil
}

func cannedRecord(instanceID string) *models.OutputRecord {
	return &models.OutputRecord{
		ObjectivesCompleted: []string{"objective of " + instanceID},
		Findings:            []models.Finding{{Summary: "finding from " + instanceID}},
		EntitiesDiscovered:  []string{instanceID + "-entity"},
	}
}

// stubFetcher serves starter sources from a fixed page map.
type stubFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	errs  map[string]error
	urls  []string
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{pages: make(map[string]string), errs: make(map[string]error)}
}

func (f *stubFetcher) Fetch(_ context.Context, url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, url)
	if err := f.errs[url]; err != nil {
		return "", err
	}
	return f.pages[url], nil
}
