package endpoint

import (
	"context"

	"go.uber.org/zap"

	"roc/internal/task"
)

// Table is the control-plane registry of endpoint sets for one sender
// or receiver pipeline. Every mutation is submitted as a task and runs
// on the pipeline's worker, so the registry is only ever touched from
// the same goroutine that processes audio frames; callers block on the
// task's completion latch (or their context's deadline).
type Table struct {
	tasks *task.Pipeline
	log   *zap.Logger

	sets   map[uint64]*Set
	nextID uint64
}

// NewTable constructs an empty table whose mutations run on tasks.
func NewTable(tasks *task.Pipeline, log *zap.Logger) *Table {
	return &Table{tasks: tasks, log: log, sets: make(map[uint64]*Set), nextID: 1}
}

// AddSet creates an empty endpoint set and returns its id.
func (t *Table) AddSet(ctx context.Context) (uint64, error) {
	var id uint64
	err := t.tasks.SubmitSync(ctx, func() error {
		id = t.nextID
		t.nextID++
		t.sets[id] = &Set{id: id}
		if t.log != nil {
			t.log.Info("endpoint: set created", zap.Uint64("set_id", id))
		}
		return nil
	})
	return id, err
}

// DeleteSet removes a set and everything it binds.
func (t *Table) DeleteSet(ctx context.Context, id uint64) error {
	return t.tasks.SubmitSync(ctx, func() error {
		if _, ok := t.sets[id]; !ok {
			return ErrNoSuchSet
		}
		delete(t.sets, id)
		if t.log != nil {
			t.log.Info("endpoint: set deleted", zap.Uint64("set_id", id))
		}
		return nil
	})
}

// CreateEndpoint binds a new endpoint of the given protocol to a set.
func (t *Table) CreateEndpoint(ctx context.Context, setID uint64, proto Proto, addr string) error {
	return t.tasks.SubmitSync(ctx, func() error {
		s, ok := t.sets[setID]
		if !ok {
			return ErrNoSuchSet
		}
		if _, err := s.CreateEndpoint(proto, addr); err != nil {
			return err
		}
		if t.log != nil {
			t.log.Info("endpoint: endpoint created",
				zap.Uint64("set_id", setID), zap.Stringer("proto", proto), zap.String("addr", addr))
		}
		return nil
	})
}

// DeleteEndpoint unbinds one endpoint from a set.
func (t *Table) DeleteEndpoint(ctx context.Context, setID uint64, repair bool) error {
	return t.tasks.SubmitSync(ctx, func() error {
		s, ok := t.sets[setID]
		if !ok {
			return ErrNoSuchSet
		}
		return s.DeleteEndpoint(repair)
	})
}

// SetOutput binds the writer that receives an endpoint's packets.
func (t *Table) SetOutput(ctx context.Context, setID uint64, repair bool, w Writer) error {
	return t.tasks.SubmitSync(ctx, func() error {
		e, err := t.endpoint(setID, repair)
		if err != nil {
			return err
		}
		e.SetOutput(w)
		return nil
	})
}

// SetDestination retargets an endpoint's address.
func (t *Table) SetDestination(ctx context.Context, setID uint64, repair bool, addr string) error {
	return t.tasks.SubmitSync(ctx, func() error {
		e, err := t.endpoint(setID, repair)
		if err != nil {
			return err
		}
		e.SetDestination(addr)
		if t.log != nil {
			t.log.Info("endpoint: destination changed",
				zap.Uint64("set_id", setID), zap.Bool("repair", repair), zap.String("addr", addr))
		}
		return nil
	})
}

// SetInfo is one row of a Snapshot.
type SetInfo struct {
	ID          uint64 `json:"id"`
	SourceProto string `json:"source_proto,omitempty"`
	SourceAddr  string `json:"source_addr,omitempty"`
	RepairProto string `json:"repair_proto,omitempty"`
	RepairAddr  string `json:"repair_addr,omitempty"`
}

// Snapshot reports every set's bindings, for the control plane's
// list operation.
func (t *Table) Snapshot(ctx context.Context) ([]SetInfo, error) {
	var out []SetInfo
	err := t.tasks.SubmitSync(ctx, func() error {
		for _, s := range t.sets {
			info := SetInfo{ID: s.id}
			if s.source != nil {
				info.SourceProto = s.source.proto.String()
				info.SourceAddr = s.source.addr
			}
			if s.repair != nil {
				info.RepairProto = s.repair.proto.String()
				info.RepairAddr = s.repair.addr
			}
			out = append(out, info)
		}
		return nil
	})
	return out, err
}

func (t *Table) endpoint(setID uint64, repair bool) (*Endpoint, error) {
	s, ok := t.sets[setID]
	if !ok {
		return nil, ErrNoSuchSet
	}
	e := s.source
	if repair {
		e = s.repair
	}
	if e == nil {
		return nil, ErrNoSuchEndpoint
	}
	return e, nil
}
