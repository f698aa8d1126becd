package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/duna/traceability/cmd/traceability/flowgraph"
	"github.com/duna/traceability/cmd/traceability/models"
	"github.com/duna/traceability/common/logger"
	"github.com/google/uuid"
)

func testLogger() *logger.Logger {
	return logger.New("error", "text")
}

type stepKey struct {
	runID uuid.UUID
	index int
}

// fakeStore is an in-memory store satisfying every service's store
// interface. InTx carries the same contract as the real pool wrapper:
// nested calls join the outer transaction, and an error returned from
// the outermost function rolls every write back.
type fakeStore struct {
	mu sync.Mutex

	definitions map[uuid.UUID]*models.FlowDefinition
	versions    map[uuid.UUID]*models.FlowVersion
	runs        map[uuid.UUID]*models.ProductionRun
	steps       map[stepKey]*models.RunStepExecution
	lots        map[uuid.UUID]*models.Lot
	edges       []*models.GenealogyEdge
	gates       map[uuid.UUID]*models.QCGate
	decisions   []*models.QCDecision
	runSeq      map[string]int

	txDepth    int
	txSnapshot *fakeState
}

// fakeState is a point-in-time copy of the store's data for rollback
type fakeState struct {
	definitions map[uuid.UUID]*models.FlowDefinition
	versions    map[uuid.UUID]*models.FlowVersion
	runs        map[uuid.UUID]*models.ProductionRun
	steps       map[stepKey]*models.RunStepExecution
	lots        map[uuid.UUID]*models.Lot
	edges       []*models.GenealogyEdge
	gates       map[uuid.UUID]*models.QCGate
	decisions   []*models.QCDecision
	runSeq      map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		definitions: make(map[uuid.UUID]*models.FlowDefinition),
		versions:    make(map[uuid.UUID]*models.FlowVersion),
		runs:        make(map[uuid.UUID]*models.ProductionRun),
		steps:       make(map[stepKey]*models.RunStepExecution),
		lots:        make(map[uuid.UUID]*models.Lot),
		gates:       make(map[uuid.UUID]*models.QCGate),
		runSeq:      make(map[string]int),
	}
}

func (f *fakeStore) captureLocked() *fakeState {
	s := &fakeState{
		definitions: make(map[uuid.UUID]*models.FlowDefinition, len(f.definitions)),
		versions:    make(map[uuid.UUID]*models.FlowVersion, len(f.versions)),
		runs:        make(map[uuid.UUID]*models.ProductionRun, len(f.runs)),
		steps:       make(map[stepKey]*models.RunStepExecution, len(f.steps)),
		lots:        make(map[uuid.UUID]*models.Lot, len(f.lots)),
		gates:       make(map[uuid.UUID]*models.QCGate, len(f.gates)),
		runSeq:      make(map[string]int, len(f.runSeq)),
	}
	for k, v := range f.definitions {
		copied := *v
		s.definitions[k] = &copied
	}
	for k, v := range f.versions {
		copied := *v
		s.versions[k] = &copied
	}
	for k, v := range f.runs {
		copied := *v
		s.runs[k] = &copied
	}
	for k, v := range f.steps {
		copied := *v
		s.steps[k] = &copied
	}
	for k, v := range f.lots {
		copied := *v
		s.lots[k] = &copied
	}
	for k, v := range f.gates {
		copied := *v
		s.gates[k] = &copied
	}
	for _, e := range f.edges {
		copied := *e
		s.edges = append(s.edges, &copied)
	}
	for _, d := range f.decisions {
		copied := *d
		s.decisions = append(s.decisions, &copied)
	}
	for k, v := range f.runSeq {
		s.runSeq[k] = v
	}
	return s
}

func (f *fakeStore) restoreLocked(s *fakeState) {
	f.definitions = s.definitions
	f.versions = s.versions
	f.runs = s.runs
	f.steps = s.steps
	f.lots = s.lots
	f.gates = s.gates
	f.edges = s.edges
	f.decisions = s.decisions
	f.runSeq = s.runSeq
}

func (f *fakeStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.mu.Lock()
	if f.txDepth == 0 {
		f.txSnapshot = f.captureLocked()
	}
	f.txDepth++
	f.mu.Unlock()

	err := fn(ctx)

	f.mu.Lock()
	f.txDepth--
	if f.txDepth == 0 {
		if err != nil {
			f.restoreLocked(f.txSnapshot)
		}
		f.txSnapshot = nil
	}
	f.mu.Unlock()
	return err
}

// --- flow definitions and versions ---

func (f *fakeStore) CreateDefinition(ctx context.Context, def *models.FlowDefinition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *def
	f.definitions[def.ID] = &copied
	return nil
}

func (f *fakeStore) GetDefinition(ctx context.Context, id uuid.UUID) (*models.FlowDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	def, ok := f.definitions[id]
	if !ok {
		return nil, &models.NotFoundError{Entity: "flow definition", Ref: id.String()}
	}
	copied := *def
	return &copied, nil
}

func (f *fakeStore) ListDefinitions(ctx context.Context) ([]*models.FlowDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.FlowDefinition
	for _, def := range f.definitions {
		copied := *def
		out = append(out, &copied)
	}
	return out, nil
}

func (f *fakeStore) LockDefinition(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.definitions[id]; !ok {
		return &models.NotFoundError{Entity: "flow definition", Ref: id.String()}
	}
	return nil
}

func (f *fakeStore) InsertVersion(ctx context.Context, v *models.FlowVersion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *v
	f.versions[v.ID] = &copied
	return nil
}

func (f *fakeStore) getVersion(id uuid.UUID) (*models.FlowVersion, error) {
	v, ok := f.versions[id]
	if !ok {
		return nil, &models.NotFoundError{Entity: "flow version", Ref: id.String()}
	}
	copied := *v
	return &copied, nil
}

func (f *fakeStore) GetVersion(ctx context.Context, id uuid.UUID) (*models.FlowVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getVersion(id)
}

func (f *fakeStore) GetVersionForUpdate(ctx context.Context, id uuid.UUID) (*models.FlowVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getVersion(id)
}

func (f *fakeStore) ListVersions(ctx context.Context, definitionID uuid.UUID) ([]*models.FlowVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.FlowVersion
	for _, v := range f.versions {
		if v.FlowDefinitionID == definitionID {
			copied := *v
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeStore) LatestDraft(ctx context.Context, definitionID uuid.UUID) (*models.FlowVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *models.FlowVersion
	for _, v := range f.versions {
		if v.FlowDefinitionID != definitionID || v.Status != models.VersionDraft {
			continue
		}
		if latest == nil || v.VersionNum > latest.VersionNum {
			latest = v
		}
	}
	if latest == nil {
		return nil, &models.NotFoundError{Entity: "draft flow version", Ref: definitionID.String()}
	}
	copied := *latest
	return &copied, nil
}

func (f *fakeStore) MaxVersionNum(ctx context.Context, definitionID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	max := 0
	for _, v := range f.versions {
		if v.FlowDefinitionID == definitionID && v.VersionNum > max {
			max = v.VersionNum
		}
	}
	return max, nil
}

func (f *fakeStore) UpdateDraftGraph(ctx context.Context, versionID uuid.UUID, graph *flowgraph.Graph) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.versions[versionID]
	if !ok || v.Status != models.VersionDraft {
		return false, nil
	}
	v.Graph = *graph
	return true, nil
}

func (f *fakeStore) SetVersionStatus(ctx context.Context, versionID uuid.UUID, status models.FlowVersionStatus, reviewedBy *string, committedAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.versions[versionID]
	if !ok {
		return &models.NotFoundError{Entity: "flow version", Ref: versionID.String()}
	}
	if status == models.VersionPublished {
		// Mirror the partial unique index on published versions.
		for _, other := range f.versions {
			if other.ID != versionID && other.FlowDefinitionID == v.FlowDefinitionID && other.Status == models.VersionPublished {
				return fmt.Errorf(`duplicate key value violates unique constraint "uq_flow_versions_published"`)
			}
		}
	}
	v.Status = status
	if reviewedBy != nil {
		v.ReviewedBy = reviewedBy
	}
	if committedAt != nil {
		v.CommittedAt = committedAt
	}
	return nil
}

func (f *fakeStore) DemoteCurrentPublished(ctx context.Context, definitionID, exceptID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.versions {
		if v.FlowDefinitionID == definitionID && v.Status == models.VersionPublished && v.ID != exceptID {
			v.Status = models.VersionDeprecated
		}
	}
	return nil
}

// --- runs and steps ---

func (f *fakeStore) InsertRunIdempotent(ctx context.Context, run *models.ProductionRun) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.runs {
		if existing.IdempotencyKey == run.IdempotencyKey {
			return false, nil
		}
	}
	copied := *run
	f.runs[run.ID] = &copied
	return true, nil
}

func (f *fakeStore) getRun(id uuid.UUID) (*models.ProductionRun, error) {
	run, ok := f.runs[id]
	if !ok {
		return nil, &models.NotFoundError{Entity: "production run", Ref: id.String()}
	}
	copied := *run
	return &copied, nil
}

func (f *fakeStore) GetRun(ctx context.Context, id uuid.UUID) (*models.ProductionRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getRun(id)
}

func (f *fakeStore) GetRunForUpdate(ctx context.Context, id uuid.UUID) (*models.ProductionRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getRun(id)
}

func (f *fakeStore) GetRunByIdempotencyKey(ctx context.Context, key string) (*models.ProductionRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, run := range f.runs {
		if run.IdempotencyKey == key {
			copied := *run
			return &copied, nil
		}
	}
	return nil, &models.NotFoundError{Entity: "production run", Ref: key}
}

func (f *fakeStore) ListRuns(ctx context.Context, limit int) ([]*models.ProductionRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.ProductionRun
	for _, run := range f.runs {
		copied := *run
		out = append(out, &copied)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateRun(ctx context.Context, run *models.ProductionRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.runs[run.ID]; !ok {
		return &models.NotFoundError{Entity: "production run", Ref: run.ID.String()}
	}
	copied := *run
	f.runs[run.ID] = &copied
	return nil
}

func (f *fakeStore) NextRunSeq(ctx context.Context, prefix string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runSeq[prefix]++
	return f.runSeq[prefix], nil
}

func (f *fakeStore) InsertSteps(ctx context.Context, steps []*models.RunStepExecution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, step := range steps {
		copied := *step
		f.steps[stepKey{step.RunID, step.StepIndex}] = &copied
	}
	return nil
}

func (f *fakeStore) StepsForRun(ctx context.Context, runID uuid.UUID) ([]*models.RunStepExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.RunStepExecution
	for i := 0; ; i++ {
		step, ok := f.steps[stepKey{runID, i}]
		if !ok {
			break
		}
		copied := *step
		out = append(out, &copied)
	}
	return out, nil
}

func (f *fakeStore) GetStep(ctx context.Context, runID uuid.UUID, stepIndex int) (*models.RunStepExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	step, ok := f.steps[stepKey{runID, stepIndex}]
	if !ok {
		return nil, &models.NotFoundError{Entity: "run step", Ref: fmt.Sprintf("%s/%d", runID, stepIndex)}
	}
	copied := *step
	return &copied, nil
}

func (f *fakeStore) UpdateStep(ctx context.Context, step *models.RunStepExecution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *step
	f.steps[stepKey{step.RunID, step.StepIndex}] = &copied
	return nil
}

func (f *fakeStore) SkipUnfinishedSteps(ctx context.Context, runID uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, step := range f.steps {
		if key.runID == runID && step.Status != models.StepCompleted {
			step.Status = models.StepSkipped
			step.CompletedAt = &at
		}
	}
	return nil
}

func (f *fakeStore) CountBlockedLots(ctx context.Context, runID uuid.UUID, stepIndex int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, lot := range f.lots {
		if lot.ProductionRunID == nil || *lot.ProductionRunID != runID || lot.StepIndex != stepIndex {
			continue
		}
		if lot.Status == models.LotHold || lot.Status == models.LotRejected {
			count++
		}
	}
	return count, nil
}

// --- lots and genealogy ---

func (f *fakeStore) InsertLot(ctx context.Context, lot *models.Lot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.lots {
		if existing.LotCode == lot.LotCode {
			return fmt.Errorf("duplicate lot code %s", lot.LotCode)
		}
	}
	copied := *lot
	f.lots[lot.ID] = &copied
	return nil
}

func (f *fakeStore) GetLot(ctx context.Context, id uuid.UUID) (*models.Lot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lot, ok := f.lots[id]
	if !ok {
		return nil, &models.NotFoundError{Entity: "lot", Ref: id.String()}
	}
	copied := *lot
	return &copied, nil
}

func (f *fakeStore) GetLotByCode(ctx context.Context, code string) (*models.Lot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, lot := range f.lots {
		if lot.LotCode == code {
			copied := *lot
			return &copied, nil
		}
	}
	return nil, &models.NotFoundError{Entity: "lot", Ref: code}
}

func (f *fakeStore) LotsByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Lot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Lot
	for _, id := range ids {
		if lot, ok := f.lots[id]; ok {
			copied := *lot
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeStore) ListLotsByRun(ctx context.Context, runID uuid.UUID) ([]*models.Lot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Lot
	for _, lot := range f.lots {
		if lot.ProductionRunID != nil && *lot.ProductionRunID == runID {
			copied := *lot
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeStore) SetLotStatus(ctx context.Context, lotID uuid.UUID, from, to models.LotStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lot, ok := f.lots[lotID]
	if !ok || lot.Status != from {
		return false, nil
	}
	lot.Status = to
	lot.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (f *fakeStore) InsertGenealogyEdges(ctx context.Context, edges []*models.GenealogyEdge) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, edge := range edges {
		copied := *edge
		f.edges = append(f.edges, &copied)
	}
	return nil
}

func (f *fakeStore) ParentEdges(ctx context.Context, childLotID uuid.UUID) ([]*models.GenealogyEdge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.GenealogyEdge
	for _, edge := range f.edges {
		if edge.ChildLotID == childLotID {
			copied := *edge
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeStore) ChildEdges(ctx context.Context, parentLotID uuid.UUID) ([]*models.GenealogyEdge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.GenealogyEdge
	for _, edge := range f.edges {
		if edge.ParentLotID == parentLotID {
			copied := *edge
			out = append(out, &copied)
		}
	}
	return out, nil
}

// --- qc ---

func (f *fakeStore) InsertGate(ctx context.Context, gate *models.QCGate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *gate
	f.gates[gate.ID] = &copied
	return nil
}

func (f *fakeStore) GetGate(ctx context.Context, id uuid.UUID) (*models.QCGate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate, ok := f.gates[id]
	if !ok {
		return nil, &models.NotFoundError{Entity: "qc gate", Ref: id.String()}
	}
	copied := *gate
	return &copied, nil
}

func (f *fakeStore) InsertDecision(ctx context.Context, d *models.QCDecision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *d
	f.decisions = append(f.decisions, &copied)
	return nil
}

func (f *fakeStore) DecisionsForLot(ctx context.Context, lotID uuid.UUID) ([]*models.QCDecision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.QCDecision
	for _, d := range f.decisions {
		if d.LotID == lotID {
			copied := *d
			out = append(out, &copied)
		}
	}
	return out, nil
}

// --- trace cache fake ---

// fakeCache is an in-memory TraceCache with call counters
type fakeCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	hits    int
	sets    int
	deleted []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]byte)}
}

func (c *fakeCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	val, ok := c.data[key]
	if ok {
		c.hits++
	}
	return val, ok, nil
}

func (c *fakeCache) SetWithExpiry(ctx context.Context, key string, value []byte, expiry time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.data[key] = value
	return nil
}

func (c *fakeCache) DeleteByPattern(ctx context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, pattern)
	// Pattern is always trace:*:{lotID}:*; match on the lot ID segment.
	needle := strings.TrimSuffix(strings.TrimPrefix(pattern, "trace:*"), "*")
	for key := range c.data {
		if strings.Contains(key, strings.Trim(needle, ":")) {
			delete(c.data, key)
		}
	}
	return nil
}
