package storage

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplMemory Implementation = "memory"
	ImplFS     Implementation = "fs"
	ImplSQLite Implementation = "sqlite"
)

// Operation represents storage operations as bit flags.
// A single constant names one operation; an OR of constants forms a
// capability set.
type Operation uint64

const (
	OpCreate     Operation = 1 << iota // Support for Create operations
	OpCreateMany                       // Support for CreateMany operations
	OpFind                             // Support for Find operations
	OpFindOne                          // Support for FindOne operations
	OpDelete                           // Support for Delete operations
	OpDeleteMany                       // Support for DeleteMany operations
	OpUpdateOne                        // Support for UpdateOne operations
	OpOn                               // Support for listener registration
	OpOff                              // Support for listener removal
)

// OpsAll is the full operation vocabulary.
const OpsAll = OpCreate | OpCreateMany | OpFind | OpFindOne |
	OpDelete | OpDeleteMany | OpUpdateOne | OpOn | OpOff

// OpsMutating are the operations whose success causes a change notification.
const OpsMutating = OpCreate | OpCreateMany | OpDelete | OpDeleteMany | OpUpdateOne

func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpCreateMany:
		return "createMany"
	case OpFind:
		return "find"
	case OpFindOne:
		return "findOne"
	case OpDelete:
		return "delete"
	case OpDeleteMany:
		return "deleteMany"
	case OpUpdateOne:
		return "updateOne"
	case OpOn:
		return "on"
	case OpOff:
		return "off"
	default:
		return "unknown"
	}
}

// Each returns the single-operation flags contained in the set, in
// declaration order.
func (op Operation) Each() []Operation {
	all := []Operation{
		OpCreate, OpCreateMany, OpFind, OpFindOne,
		OpDelete, OpDeleteMany, OpUpdateOne, OpOn, OpOff,
	}
	ops := make([]Operation, 0, len(all))
	for _, o := range all {
		if op&o == o {
			ops = append(ops, o)
		}
	}
	return ops
}

// Contains reports whether every operation in ops is part of the set.
func (op Operation) Contains(ops Operation) bool {
	return op&ops == ops
}

// AdapterInfo describes a bound adapter instance. It is used for error
// attribution and for metric labels.
type AdapterInfo struct {
	Name         string         `json:"name"`
	Impl         Implementation `json:"impl"`
	Capabilities Operation      `json:"capabilities"`
	Metadata     interface{}    `json:"metadata"`
}

// --------------------------------------------------------------------------
// Data Model
// --------------------------------------------------------------------------

// Record is one stored entry. Key is caller-supplied, never empty and unique
// within one adapter's namespace; it is treated as an opaque identifier and
// may be path-like for filesystem-backed adapters. Data is opaque to the
// core; the bundled adapters store document values (map[string]any).
type Record struct {
	Key  string      `json:"key"`
	Data interface{} `json:"data"`
}

// Filter is an opaque, adapter-interpretable query description. The core
// never inspects it; it only forwards it to the bound adapter.
type Filter interface{}

// Match is the filter shape understood by all bundled adapters: an exact key,
// a key prefix, or (zero value) everything. Adapters must reject filter
// shapes they cannot interpret with an UnsupportedData error.
type Match struct {
	Key    string `json:"key,omitempty"`
	Prefix string `json:"prefix,omitempty"`
}

// Matches reports whether the given key satisfies the filter.
func (m Match) Matches(key string) bool {
	if m.Key != "" {
		return key == m.Key
	}
	if m.Prefix != "" {
		return len(key) >= len(m.Prefix) && key[:len(m.Prefix)] == m.Prefix
	}
	return true
}

// BatchResult is the outcome for one item of a batch operation. A failure of
// one item never aborts or rolls back the others.
type BatchResult struct {
	Key string `json:"key"`
	Err error  `json:"err,omitempty"`
}

// OK reports whether the item succeeded.
func (r BatchResult) OK() bool {
	return r.Err == nil
}

// --------------------------------------------------------------------------
// Change Notifications
// --------------------------------------------------------------------------

// Event is a change notification emitted by an adapter after a successful
// mutating operation. Batch operations emit one event per affected item.
type Event struct {
	Op   Operation   `json:"op"`
	Key  string      `json:"key"`
	Data interface{} `json:"data,omitempty"`
}

// Listener is a callback registered for one operation name. Listeners of one
// operation are invoked synchronously in registration order.
type Listener func(Event)

// NotifyFunc is the adapter-side notification callback. An adapter invokes it
// once per change event for every operation it was subscribed to.
type NotifyFunc func(Event)
