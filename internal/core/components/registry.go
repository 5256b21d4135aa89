package components

import (
	"fmt"
	"reflect"
	"sort"
)

// ID identifies a registered networked component type. IDs must agree across
// peers; they are part of the wire format and of spawn hashes.
type ID uint32

// SyncMode classifies how a component type is replicated.
type SyncMode uint8

const (
	// ReplicatedOnly components flow authority to clients and are never
	// simulated locally.
	ReplicatedOnly SyncMode = iota
	// Predicted components are simulated locally and rolled back when the
	// comparison function reports a mismatch.
	Predicted
	// PredictedCorrected adds a continuous correction function and a render
	// interpolation buffer on top of Predicted.
	PredictedCorrected
)

func (m SyncMode) String() string {
	switch m {
	case ReplicatedOnly:
		return "replicated"
	case Predicted:
		return "predicted"
	case PredictedCorrected:
		return "predicted+corrected"
	default:
		return "unknown"
	}
}

// CompareFunc reports whether a predicted value and a confirmed value agree
// closely enough that no rollback is needed.
type CompareFunc func(predicted, confirmed any) bool

// BlendFunc interpolates from one value toward another. t is in [0,1].
// Used both for visual correction blending and render interpolation.
type BlendFunc func(from, to any, t float64) any

// CloneFunc deep-copies a component value before it enters the history
// buffer. Value types need no clone; pointer-shaped values must supply one.
type CloneFunc func(v any) any

// EncodeFunc and DecodeFunc convert a component value to and from its wire
// payload.
type (
	EncodeFunc func(v any) ([]byte, error)
	DecodeFunc func(data []byte) (any, error)
)

// Registration describes one networked component type. Zero-valued optional
// functions get defaults: Compare falls back to deep equality, Blend to snap,
// Clone to identity.
type Registration struct {
	Name    string
	Mode    SyncMode
	Compare CompareFunc
	Correct BlendFunc
	Lerp    BlendFunc
	Clone   CloneFunc
	Encode  EncodeFunc
	Decode  DecodeFunc
}

// Registry holds all component registrations for a peer. It is populated once
// at setup and read-only afterwards; the reconciliation engine pulls
// comparison and correction functions from it instead of installing hooks.
type Registry struct {
	entries   map[ID]Registration
	predicted []ID
	all       []ID
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[ID]Registration)}
}

// Register adds a component type. Registering the same ID twice is an error.
func (r *Registry) Register(id ID, reg Registration) error {
	if _, exists := r.entries[id]; exists {
		return fmt.Errorf("component %d (%s) already registered", id, reg.Name)
	}
	if reg.Compare == nil {
		reg.Compare = func(a, b any) bool { return reflect.DeepEqual(a, b) }
	}
	if reg.Correct == nil {
		reg.Correct = Snap
	}
	if reg.Lerp == nil {
		reg.Lerp = Snap
	}
	if reg.Clone == nil {
		reg.Clone = func(v any) any { return v }
	}
	if reg.Encode == nil {
		reg.Encode = EncodeValue
	}
	r.entries[id] = reg

	r.all = insertSorted(r.all, id)
	if reg.Mode == Predicted || reg.Mode == PredictedCorrected {
		r.predicted = insertSorted(r.predicted, id)
	}
	return nil
}

func (r *Registry) Lookup(id ID) (Registration, bool) {
	reg, ok := r.entries[id]
	return reg, ok
}

// Predicted returns the IDs of all predicted component types in ascending
// order. The ordering is load-bearing: history recording and resimulation
// iterate it, and iteration order must be identical on every run.
func (r *Registry) Predicted() []ID {
	return r.predicted
}

// IDs returns every registered component ID in ascending order.
func (r *Registry) IDs() []ID {
	return r.all
}

// InSync applies the registered comparison for id. Unknown IDs compare by
// deep equality.
func (r *Registry) InSync(id ID, predicted, confirmed any) bool {
	if reg, ok := r.entries[id]; ok {
		return reg.Compare(predicted, confirmed)
	}
	return reflect.DeepEqual(predicted, confirmed)
}

// Snap is the default blend: it jumps straight to the target value.
func Snap(_, to any, _ float64) any {
	return to
}

func insertSorted(ids []ID, id ID) []ID {
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	ids = append(ids, 0)
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}
