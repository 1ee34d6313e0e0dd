// Package schema describes persisted entity types.
//
// Entities are registered explicitly at startup from struct tags:
//
//	type Site struct {
//		ID     int64             `db:"id" schema:"pk"`
//		Name   string            `db:"name" schema:"search"`
//		Label  map[string]string `db:"label" schema:"i18n"`
//		Custom any               `db:"custom_fields" schema:"mutable"`
//	}
//
//	sites := schema.MustNew[Site]("Site", "sites")
//
// The resulting *Entity is immutable and safe to share across goroutines.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Kind classifies how a column's value is stored and updated.
type Kind int

const (
	KindScalar Kind = iota
	// KindJSON is a structured value replaced wholesale on update.
	KindJSON
	// KindMutable is a structured value shallow-merged when updated with a map.
	KindMutable
	// KindI18n is a map of locale -> label.
	KindI18n
	KindBinary
)

// Structured reports whether values of this kind are stored as JSON documents.
func (k Kind) Structured() bool {
	return k == KindJSON || k == KindMutable || k == KindI18n
}

// Field is one mapped column.
type Field struct {
	Name     string
	GoName   string
	Type     reflect.Type
	Kind     Kind
	PK       bool
	Search   bool
	ReadOnly bool

	index []int
}

// Relation is a many-to-many collection stored in a join table.
type Relation struct {
	Name         string
	JoinTable    string
	OwnerColumn  string
	TargetColumn string
	Target       *Entity
}

// RelatedSetter is implemented by entity structs that want preloaded
// relation members handed to them after a list.
type RelatedSetter interface {
	SetRelated(relation string, ids []any)
}

// Entity is the metadata of one persisted type.
type Entity struct {
	Name    string
	Table   string
	Type    reflect.Type
	Fields  []*Field
	PK      *Field
	Audited bool

	byName    map[string]*Field
	relations map[string]*Relation
}

// Option customizes an Entity at registration time.
type Option func(*Entity)

// WithRelation declares a many-to-many collection named name.
func WithRelation(name, joinTable, ownerColumn, targetColumn string, target *Entity) Option {
	return func(e *Entity) {
		e.relations[name] = &Relation{
			Name:         name,
			JoinTable:    joinTable,
			OwnerColumn:  ownerColumn,
			TargetColumn: targetColumn,
			Target:       target,
		}
	}
}

// Audited marks the entity as having a companion audit table.
func Audited() Option {
	return func(e *Entity) { e.Audited = true }
}

// New builds entity metadata for struct type T.
func New[T any](name, table string, opts ...Option) (*Entity, error) {
	return newEntity(reflect.TypeFor[T](), name, table, opts...)
}

// MustNew is New that panics on error. Intended for package-level registration.
func MustNew[T any](name, table string, opts ...Option) *Entity {
	e, err := New[T](name, table, opts...)
	if err != nil {
		panic(err)
	}
	return e
}

func newEntity(t reflect.Type, name, table string, opts ...Option) (*Entity, error) {
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("schema: %s is not a struct", t)
	}
	if name == "" || table == "" {
		return nil, fmt.Errorf("schema: %s: name and table are required", t)
	}

	e := &Entity{
		Name:      name,
		Table:     table,
		Type:      t,
		byName:    map[string]*Field{},
		relations: map[string]*Relation{},
	}
	if err := e.collect(t, nil); err != nil {
		return nil, err
	}
	if len(e.Fields) == 0 {
		return nil, fmt.Errorf("schema: %s has no db-tagged fields", t)
	}
	if e.PK == nil {
		if f, ok := e.byName["id"]; ok {
			f.PK = true
			e.PK = f
		} else {
			return nil, fmt.Errorf("schema: %s has no primary key", t)
		}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Entity) collect(t reflect.Type, prefix []int) error {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		index := append(append([]int{}, prefix...), i)

		col := sf.Tag.Get("db")
		if sf.Anonymous && col == "" && sf.Type.Kind() == reflect.Struct {
			if err := e.collect(sf.Type, index); err != nil {
				return err
			}
			continue
		}
		if !sf.IsExported() || col == "" || col == "-" {
			continue
		}
		if _, dup := e.byName[col]; dup {
			return fmt.Errorf("schema: %s: duplicate column %q", t, col)
		}

		f := &Field{Name: col, GoName: sf.Name, Type: sf.Type, Kind: inferKind(sf.Type), index: index}
		for _, flag := range strings.Split(sf.Tag.Get("schema"), ",") {
			switch strings.TrimSpace(flag) {
			case "":
			case "pk":
				f.PK = true
			case "search":
				f.Search = true
			case "readonly":
				f.ReadOnly = true
			case "json":
				f.Kind = KindJSON
			case "mutable":
				f.Kind = KindMutable
			case "i18n":
				f.Kind = KindI18n
			case "binary":
				f.Kind = KindBinary
			default:
				return fmt.Errorf("schema: %s.%s: unknown flag %q", t, sf.Name, flag)
			}
		}
		if f.PK {
			if e.PK != nil {
				return fmt.Errorf("schema: %s: composite primary keys are not supported", t)
			}
			e.PK = f
		}
		e.Fields = append(e.Fields, f)
		e.byName[col] = f
	}
	return nil
}

func inferKind(t reflect.Type) Kind {
	switch t.Kind() {
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return KindBinary
		}
		return KindJSON
	case reflect.Map, reflect.Interface:
		return KindJSON
	}
	return KindScalar
}

// Field returns the column named name.
func (e *Entity) Field(name string) (*Field, bool) {
	f, ok := e.byName[name]
	return f, ok
}

// Relation returns the collection named name.
func (e *Entity) Relation(name string) (*Relation, bool) {
	r, ok := e.relations[name]
	return r, ok
}

// Columns returns every mapped column in declaration order.
func (e *Entity) Columns() []string {
	out := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		out[i] = f.Name
	}
	return out
}

// SearchFields returns the columns included in free-text search.
func (e *Entity) SearchFields() []*Field {
	var out []*Field
	for _, f := range e.Fields {
		if f.Search {
			out = append(out, f)
		}
	}
	return out
}

// New allocates a zero value of the entity type and returns a pointer to it.
func (e *Entity) New() any {
	return reflect.New(e.Type).Interface()
}

func (e *Entity) elem(obj any) (reflect.Value, error) {
	v := reflect.ValueOf(obj)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Type() != e.Type {
		return reflect.Value{}, fmt.Errorf("schema: %s: expected non-nil *%s, got %T", e.Name, e.Type, obj)
	}
	return v.Elem(), nil
}

// Get returns the Go value of column in obj.
func (e *Entity) Get(obj any, column string) (any, error) {
	f, ok := e.byName[column]
	if !ok {
		return nil, fmt.Errorf("schema: %s has no column %q", e.Name, column)
	}
	v, err := e.elem(obj)
	if err != nil {
		return nil, err
	}
	return v.FieldByIndex(f.index).Interface(), nil
}

// PKValue returns the primary key of obj.
func (e *Entity) PKValue(obj any) (any, error) {
	return e.Get(obj, e.PK.Name)
}

// Set assigns a loosely typed value to column in obj.
func (e *Entity) Set(obj any, column string, value any) error {
	f, ok := e.byName[column]
	if !ok {
		return fmt.Errorf("schema: %s has no column %q", e.Name, column)
	}
	v, err := e.elem(obj)
	if err != nil {
		return err
	}
	return f.scanner(v.FieldByIndex(f.index)).Scan(value)
}

// ScanTargets returns one sql.Scanner per column, in Columns order, that
// writes into obj.
func (e *Entity) ScanTargets(obj any) ([]any, error) {
	v, err := e.elem(obj)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(e.Fields))
	for i, f := range e.Fields {
		out[i] = f.scanner(v.FieldByIndex(f.index))
	}
	return out, nil
}

// Snapshot returns every mapped column of obj normalized through JSON, so
// snapshots taken before and after a write compare with reflect.DeepEqual.
func (e *Entity) Snapshot(obj any) (map[string]any, error) {
	v, err := e.elem(obj)
	if err != nil {
		return nil, err
	}
	raw := make(map[string]any, len(e.Fields))
	for _, f := range e.Fields {
		raw[f.Name] = v.FieldByIndex(f.index).Interface()
	}
	return Normalize(raw)
}

// Normalize round-trips m through JSON, keeping numbers as json.Number.
func Normalize(m map[string]any) (map[string]any, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("schema: snapshot: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	out := map[string]any{}
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("schema: snapshot: %w", err)
	}
	return out, nil
}
