package evidence

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mandrake/pkg/model"
	"github.com/m-mizutani/mandrake/pkg/tool"
)

// Aggregator folds raw findings from any stage into the canonical entity
// model of one pipeline run. All updates go through one lock, so per-entity
// state transitions are serialized; entities are created on first sighting
// and never destroyed, only merged.
type Aggregator struct {
	mu       sync.Mutex
	entities map[model.EntityID]*entityState
	byAlias  map[string]model.EntityID
	bySymbol map[string]model.EntityID

	// redirects maps merged-away entity IDs to their surviving entity, so
	// resolution and lookups through a stale ID keep working.
	redirects map[model.EntityID]model.EntityID

	seq int
	now func() time.Time
}

type entityState struct {
	entity  *model.CanonicalEntity
	records []*model.EvidenceRecord
	seq     int
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

// New creates an empty aggregator for one pipeline run.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		entities:  make(map[model.EntityID]*entityState),
		byAlias:   make(map[string]model.EntityID),
		bySymbol:  make(map[string]model.EntityID),
		redirects: make(map[model.EntityID]model.EntityID),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Ingest resolves the finding's entity and appends its evidence. A finding
// with no category is a sighting: it creates or enriches the entity but
// produces no record. A finding with no entity reference cannot be
// attributed and returns nil. Returned values are copies of nothing; the
// record is the stored one and must not be mutated by the caller.
func (a *Aggregator) Ingest(f *tool.Finding, source string, callID model.CallID) (*model.EvidenceRecord, error) {
	if f.Entity.ID == "" {
		return nil, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.resolveLocked(f.Entity)
	if st == nil {
		st = a.createLocked(f.Entity)
	} else {
		a.enrichLocked(st, f.Entity)
	}

	if f.Category == "" {
		return nil, nil
	}

	record := &model.EvidenceRecord{
		ID:         model.NewEvidenceID(),
		EntityID:   st.entity.ID,
		Source:     source,
		Category:   f.Category,
		Payload:    f.Payload,
		CallID:     callID,
		ObservedAt: a.now(),
	}
	st.records = append(st.records, record)
	return record, nil
}

// resolveLocked matches an incoming reference to an existing entity: exact
// identifier, then known alias, then case-insensitive symbol.
func (a *Aggregator) resolveLocked(ref tool.EntityRef) *entityState {
	id := a.followLocked(model.NormalizeEntityID(ref.ID))
	if st, ok := a.entities[id]; ok {
		return st
	}
	for _, alias := range append([]string{ref.ID, ref.Symbol}, ref.Aliases...) {
		key := strings.ToLower(strings.TrimSpace(alias))
		if key == "" {
			continue
		}
		if id, ok := a.byAlias[key]; ok {
			return a.entities[a.followLocked(id)]
		}
	}
	if ref.Symbol != "" {
		if id, ok := a.bySymbol[strings.ToLower(ref.Symbol)]; ok {
			return a.entities[a.followLocked(id)]
		}
	}
	return nil
}

func (a *Aggregator) followLocked(id model.EntityID) model.EntityID {
	for {
		next, ok := a.redirects[id]
		if !ok {
			return id
		}
		id = next
	}
}

func (a *Aggregator) createLocked(ref tool.EntityRef) *entityState {
	entity := &model.CanonicalEntity{
		ID:          model.NormalizeEntityID(ref.ID),
		Kind:        ref.Kind,
		Symbol:      ref.Symbol,
		Description: ref.Description,
		Species:     ref.Species,
		FirstSeenAt: a.now(),
	}
	if entity.Kind == "" {
		entity.Kind = model.EntityKindOther
	}
	st := &entityState{entity: entity, seq: a.seq}
	a.seq++
	a.entities[entity.ID] = st
	a.indexLocked(st, append([]string{ref.ID, ref.Symbol}, ref.Aliases...))
	return st
}

// enrichLocked adds the reference's identifiers and fills fields the entity
// does not have yet. An alias that already belongs to a different entity
// proves the two identical and triggers a merge.
func (a *Aggregator) enrichLocked(st *entityState, ref tool.EntityRef) {
	if st.entity.Symbol == "" {
		st.entity.Symbol = ref.Symbol
	}
	if st.entity.Description == "" {
		st.entity.Description = ref.Description
	}
	if st.entity.Species == "" {
		st.entity.Species = ref.Species
	}
	a.indexLocked(st, append([]string{ref.ID, ref.Symbol}, ref.Aliases...))
}

func (a *Aggregator) indexLocked(st *entityState, aliases []string) {
	for _, alias := range aliases {
		alias = strings.TrimSpace(alias)
		if alias == "" {
			continue
		}
		st.entity.AddAlias(alias)
		key := strings.ToLower(alias)
		if other, ok := a.byAlias[key]; ok {
			otherID := a.followLocked(other)
			if otherID != st.entity.ID {
				a.mergeLocked(st.entity.ID, otherID)
				// the survivor owns the index entries now
				st = a.entities[a.followLocked(st.entity.ID)]
			}
			continue
		}
		a.byAlias[key] = st.entity.ID
	}
	if st.entity.Symbol != "" {
		key := strings.ToLower(st.entity.Symbol)
		if _, ok := a.bySymbol[key]; !ok {
			a.bySymbol[key] = st.entity.ID
		}
	}
}

// Merge unions two entities under the earlier-created one. Merging already
// merged or identical entities is a no-op, so the operation is idempotent.
// Incompatible identities (different kinds, or different species) are not
// merged: both survive with a note, and ErrMergeConflict is returned.
func (a *Aggregator) Merge(x, y model.EntityID) (model.EntityID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	xid := a.followLocked(model.NormalizeEntityID(string(x)))
	yid := a.followLocked(model.NormalizeEntityID(string(y)))
	if _, ok := a.entities[xid]; !ok {
		return "", goerr.New("unknown entity", goerr.V("id", x))
	}
	if _, ok := a.entities[yid]; !ok {
		return "", goerr.New("unknown entity", goerr.V("id", y))
	}
	if xid == yid {
		return xid, nil
	}
	return a.mergeLocked(xid, yid)
}

func (a *Aggregator) mergeLocked(xid, yid model.EntityID) (model.EntityID, error) {
	xs, ys := a.entities[xid], a.entities[yid]

	if conflict := incompatible(xs.entity, ys.entity); conflict != "" {
		note := "conflicts with " + string(yid) + ": " + conflict
		if !hasNote(xs.entity, note) {
			xs.entity.MergeNotes = append(xs.entity.MergeNotes, note)
			ys.entity.MergeNotes = append(ys.entity.MergeNotes, "conflicts with "+string(xid)+": "+conflict)
		}
		return "", goerr.Wrap(model.ErrMergeConflict, conflict,
			goerr.V("a", xid), goerr.V("b", yid))
	}

	// earlier-created entity survives
	winner, loser := xs, ys
	if ys.seq < xs.seq {
		winner, loser = ys, xs
	}

	for _, alias := range loser.entity.Aliases {
		winner.entity.AddAlias(alias)
		a.byAlias[strings.ToLower(alias)] = winner.entity.ID
	}
	if winner.entity.Symbol == "" {
		winner.entity.Symbol = loser.entity.Symbol
	}
	if winner.entity.Description == "" {
		winner.entity.Description = loser.entity.Description
	}
	if winner.entity.Species == "" {
		winner.entity.Species = loser.entity.Species
	}
	winner.entity.MergeNotes = append(winner.entity.MergeNotes, loser.entity.MergeNotes...)

	for _, r := range loser.records {
		r.EntityID = winner.entity.ID
	}
	winner.records = append(winner.records, loser.records...)

	delete(a.entities, loser.entity.ID)
	a.redirects[loser.entity.ID] = winner.entity.ID
	if id, ok := a.bySymbol[strings.ToLower(loser.entity.Symbol)]; ok && id == loser.entity.ID {
		a.bySymbol[strings.ToLower(loser.entity.Symbol)] = winner.entity.ID
	}

	return winner.entity.ID, nil
}

func incompatible(x, y *model.CanonicalEntity) string {
	if x.Kind != y.Kind && x.Kind != model.EntityKindOther && y.Kind != model.EntityKindOther {
		return "different kinds (" + string(x.Kind) + " vs " + string(y.Kind) + ")"
	}
	if x.Species != "" && y.Species != "" && !strings.EqualFold(x.Species, y.Species) {
		return "different species (" + x.Species + " vs " + y.Species + ")"
	}
	return ""
}

func hasNote(e *model.CanonicalEntity, note string) bool {
	for _, n := range e.MergeNotes {
		if n == note {
			return true
		}
	}
	return false
}

// Resolve returns the canonical ID currently behind an identifier, alias or
// symbol, or false if nothing matches.
func (a *Aggregator) Resolve(ref tool.EntityRef) (model.EntityID, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.resolveLocked(ref)
	if st == nil {
		return "", false
	}
	return st.entity.ID, true
}

// Entities lists all canonical entities in creation order.
func (a *Aggregator) Entities() []*model.CanonicalEntity {
	a.mu.Lock()
	defer a.mu.Unlock()

	states := a.sortedLocked()
	out := make([]*model.CanonicalEntity, len(states))
	for i, st := range states {
		out[i] = st.entity
	}
	return out
}

// EvidenceFor returns the records attributed to an entity, following merges.
func (a *Aggregator) EvidenceFor(id model.EntityID) []*model.EvidenceRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.entities[a.followLocked(id)]
	if !ok {
		return nil
	}
	out := make([]*model.EvidenceRecord, len(st.records))
	copy(out, st.records)
	return out
}

// EvidenceMap returns all records grouped by canonical entity.
func (a *Aggregator) EvidenceMap() map[model.EntityID][]*model.EvidenceRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[model.EntityID][]*model.EvidenceRecord, len(a.entities))
	for id, st := range a.entities {
		records := make([]*model.EvidenceRecord, len(st.records))
		copy(records, st.records)
		out[id] = records
	}
	return out
}

func (a *Aggregator) sortedLocked() []*entityState {
	states := make([]*entityState, 0, len(a.entities))
	for _, st := range a.entities {
		states = append(states, st)
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].seq < states[j].seq
	})
	return states
}

// FirstSeenSeq exposes the creation order of an entity for deterministic
// ranking tie-breaks.
func (a *Aggregator) FirstSeenSeq(id model.EntityID) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.entities[a.followLocked(id)]
	if !ok {
		return 0, false
	}
	return st.seq, true
}
