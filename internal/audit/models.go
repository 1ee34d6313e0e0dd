package audit

import (
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Entry is an immutable, append-only audit log record.
//
// Invariants:
// - Entries are never updated or deleted.
// - ParentID has no foreign key; entries outlive the row they describe.
// - Diff is set for updates only, PostChange for creates and deletes.
type Entry struct {
	ID          uuid.UUID         `json:"id" db:"id" schema:"pk"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	RequestID   *string           `json:"request_id" db:"request_id"`
	ActorUserID *string           `json:"actor_user_id" db:"actor_user_id"`
	Action      Action            `json:"action" db:"action"`
	ParentID    string            `json:"parent_id" db:"parent_id"`
	Diff        map[string]Change `json:"diff,omitempty" db:"diff" schema:"json"`
	PostChange  map[string]any    `json:"post_change,omitempty" db:"post_change" schema:"json"`
}

type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Change is the before and after value of one column.
type Change struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// TableName is the companion audit table of parent.
func TableName(parent string) string {
	return parent + "_audit_log"
}

// Diff returns the columns whose value differs between two snapshots.
func Diff(before, after map[string]any) map[string]Change {
	out := map[string]Change{}
	for col, nv := range after {
		ov, ok := before[col]
		if ok && reflect.DeepEqual(ov, nv) {
			continue
		}
		out[col] = Change{Old: ov, New: nv}
	}
	for col, ov := range before {
		if _, ok := after[col]; !ok {
			out[col] = Change{Old: ov}
		}
	}
	return out
}
