package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inventory-platform/internal/apperr"
	"inventory-platform/internal/db"
	"inventory-platform/internal/filter"
	"inventory-platform/internal/introspect"
	"inventory-platform/internal/inventory"
	"inventory-platform/internal/schema"
	"inventory-platform/internal/testutil"
)

type fixture struct {
	engine  *db.Engine
	sites   *Repository[inventory.Site]
	racks   *Repository[inventory.Rack]
	devices *Repository[inventory.Device]
	tags    *Repository[inventory.Tag]
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	engine := testutil.OpenEngine(t)
	in := introspect.New(engine)
	c := filter.NewCompiler(engine.Dialect(), []string{"en", "de"})
	return &fixture{
		engine:  engine,
		sites:   MustNew[inventory.Site](inventory.Sites, in, c),
		racks:   MustNew[inventory.Rack](inventory.Racks, in, c),
		devices: MustNew[inventory.Device](inventory.Devices, in, c),
		tags:    MustNew[inventory.Tag](inventory.Tags, in, c),
	}
}

func (f *fixture) tx(t *testing.T, fn func(ctx context.Context, s *db.Session) error) error {
	t.Helper()
	return f.engine.Tx(context.Background(), fn)
}

func (f *fixture) count(t *testing.T, table string) int {
	t.Helper()
	var n int
	require.NoError(t, f.engine.DB().QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

func (f *fixture) site(t *testing.T, slug string) *inventory.Site {
	t.Helper()
	var site *inventory.Site
	require.NoError(t, f.tx(t, func(ctx context.Context, s *db.Session) error {
		var err error
		site, err = f.sites.Create(ctx, s, Values{"name": "Site " + slug, "slug": slug})
		return err
	}))
	return site
}

func (f *fixture) rack(t *testing.T, siteID int64, name string) *inventory.Rack {
	t.Helper()
	var rack *inventory.Rack
	require.NoError(t, f.tx(t, func(ctx context.Context, s *db.Session) error {
		var err error
		rack, err = f.racks.Create(ctx, s, Values{"site_id": siteID, "name": name})
		return err
	}))
	return rack
}

func TestNewRejectsMismatchedType(t *testing.T) {
	_, err := New[inventory.Rack](inventory.Sites, nil, nil)
	assert.Error(t, err)
}

func TestCreateThenGetRoundTrip(t *testing.T) {
	f := newFixture(t)

	var created *inventory.Site
	require.NoError(t, f.tx(t, func(ctx context.Context, s *db.Session) error {
		var err error
		created, err = f.sites.Create(ctx, s, Values{
			"name":        "Amsterdam",
			"slug":        "ams1",
			"description": "primary",
			"label":       map[string]any{"en": "Amsterdam", "de": "Amsterdam"},
		})
		return err
	}))
	require.NotZero(t, created.ID)

	require.NoError(t, f.tx(t, func(ctx context.Context, s *db.Session) error {
		got, err := f.sites.GetOneOr404(ctx, s, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "Amsterdam", got.Name)
		assert.Equal(t, "ams1", got.Slug)
		require.NotNil(t, got.Description)
		assert.Equal(t, "primary", *got.Description)
		assert.Equal(t, map[string]string{"en": "Amsterdam", "de": "Amsterdam"}, got.Label)
		assert.False(t, got.CreatedAt.IsZero())
		return nil
	}))
}

func TestCreateDropsUnknownAndReadonlyKeys(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.tx(t, func(ctx context.Context, s *db.Session) error {
		site, err := f.sites.Create(ctx, s, Values{
			"name":       "Berlin",
			"slug":       "ber1",
			"bogus":      true,
			"created_at": "2000-01-01T00:00:00Z",
		})
		require.NoError(t, err)
		assert.NotEqual(t, 2000, site.CreatedAt.Year())
		return nil
	}))
}

func TestCreateRejectsDuplicateCompositeKey(t *testing.T) {
	f := newFixture(t)
	site := f.site(t, "ams1")
	f.rack(t, site.ID, "r1")

	err := f.tx(t, func(ctx context.Context, s *db.Session) error {
		_, err := f.racks.Create(ctx, s, Values{"site_id": site.ID, "name": "r1"})
		return err
	})
	require.ErrorIs(t, err, apperr.ErrAlreadyExists)
	var ae *apperr.AlreadyExistsError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "Rack", ae.Entity)
	assert.Equal(t, "site_id,name", ae.Field)
	assert.Equal(t, 1, f.count(t, "racks"))
}

func TestCreateProbesForeignKeys(t *testing.T) {
	f := newFixture(t)

	err := f.tx(t, func(ctx context.Context, s *db.Session) error {
		_, err := f.racks.Create(ctx, s, Values{"site_id": 999, "name": "r1"})
		return err
	})
	require.ErrorIs(t, err, apperr.ErrNotFound)
	var nf *apperr.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "site_id", nf.Field)
	assert.EqualValues(t, 999, nf.Value)
	assert.Equal(t, 0, f.count(t, "racks"))
}

func TestNullUniqueColumnsAreNotProbed(t *testing.T) {
	f := newFixture(t)

	for range 2 {
		require.NoError(t, f.tx(t, func(ctx context.Context, s *db.Session) error {
			_, err := f.devices.Create(ctx, s, Values{"name": "edge", "serial": nil, "rack_id": nil})
			return err
		}))
	}
	assert.Equal(t, 2, f.count(t, "devices"))
}

func TestCreateRejectsInvalidValue(t *testing.T) {
	f := newFixture(t)
	site := f.site(t, "ams1")

	err := f.tx(t, func(ctx context.Context, s *db.Session) error {
		_, err := f.racks.Create(ctx, s, Values{"site_id": site.ID, "name": "r1", "u_height": "tall"})
		return err
	})
	require.ErrorIs(t, err, apperr.ErrInvalid)
}

func TestCreateRejectsMisshapenDocument(t *testing.T) {
	f := newFixture(t)

	err := f.tx(t, func(ctx context.Context, s *db.Session) error {
		_, err := f.sites.Create(ctx, s, Values{"name": "A", "slug": "a", "label": "Amsterdam"})
		return err
	})
	require.ErrorIs(t, err, apperr.ErrInvalid)
	var ie *apperr.InvalidError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "label", ie.Field)
	assert.Equal(t, 0, f.count(t, "sites"))
}

func TestUpdateUniquenessExcludesSelf(t *testing.T) {
	f := newFixture(t)
	site := f.site(t, "ams1")
	r1 := f.rack(t, site.ID, "r1")
	r2 := f.rack(t, site.ID, "r2")

	require.NoError(t, f.tx(t, func(ctx context.Context, s *db.Session) error {
		_, err := f.racks.Update(ctx, s, r1, Values{"name": "r1", "u_height": 48})
		return err
	}))
	assert.Equal(t, 48, r1.UHeight)

	// site_id is taken from the stored row when only name changes.
	err := f.tx(t, func(ctx context.Context, s *db.Session) error {
		_, err := f.racks.Update(ctx, s, r2, Values{"name": "r1"})
		return err
	})
	require.ErrorIs(t, err, apperr.ErrAlreadyExists)
}

func TestUpdateNeverWritesPrimaryKey(t *testing.T) {
	f := newFixture(t)
	site := f.site(t, "ams1")
	id := site.ID

	require.NoError(t, f.tx(t, func(ctx context.Context, s *db.Session) error {
		_, err := f.sites.Update(ctx, s, site, Values{"id": id + 100, "name": "Renamed"})
		return err
	}))
	assert.Equal(t, id, site.ID)
	assert.Equal(t, "Renamed", site.Name)
}

func TestUpdateMergesMutableMap(t *testing.T) {
	f := newFixture(t)

	var dev *inventory.Device
	require.NoError(t, f.tx(t, func(ctx context.Context, s *db.Session) error {
		var err error
		dev, err = f.devices.Create(ctx, s, Values{
			"name":          "edge1",
			"custom_fields": map[string]any{"a": 1, "b": 2},
		})
		return err
	}))

	require.NoError(t, f.tx(t, func(ctx context.Context, s *db.Session) error {
		_, err := f.devices.Update(ctx, s, dev, Values{"custom_fields": map[string]any{"b": 3, "c": 4}})
		return err
	}))
	assert.Equal(t, map[string]any{"a": 1.0, "b": 3.0, "c": 4.0}, dev.CustomFields)

	require.NoError(t, f.tx(t, func(ctx context.Context, s *db.Session) error {
		_, err := f.devices.Update(ctx, s, dev, Values{"custom_fields": []any{"x"}})
		return err
	}))
	assert.Equal(t, []any{"x"}, dev.CustomFields)
}

func TestGetMultiOr404IsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	a := f.site(t, "a")
	b := f.site(t, "b")

	require.NoError(t, f.tx(t, func(ctx context.Context, s *db.Session) error {
		got, err := f.sites.GetMultiOr404(ctx, s, []any{b.ID, a.ID})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "b", got[0].Slug)
		assert.Equal(t, "a", got[1].Slug)

		_, err = f.sites.GetMultiOr404(ctx, s, []any{a.ID, 12345})
		var nf *apperr.NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "Site", nf.Entity)
		assert.EqualValues(t, 12345, nf.Value)

		_, err = f.sites.GetOneOr404(ctx, s, "not-a-number")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
		return nil
	}))
}

func TestUpdateRelationshipField(t *testing.T) {
	f := newFixture(t)

	var dev *inventory.Device
	var t1, t2, t3 *inventory.Tag
	require.NoError(t, f.tx(t, func(ctx context.Context, s *db.Session) error {
		var err error
		if dev, err = f.devices.Create(ctx, s, Values{"name": "edge1"}); err != nil {
			return err
		}
		if t1, err = f.tags.Create(ctx, s, Values{"name": "core"}); err != nil {
			return err
		}
		if t2, err = f.tags.Create(ctx, s, Values{"name": "edge"}); err != nil {
			return err
		}
		t3, err = f.tags.Create(ctx, s, Values{"name": "lab"})
		return err
	}))

	related := func() []any {
		var ids []any
		require.NoError(t, f.tx(t, func(ctx context.Context, s *db.Session) error {
			var err error
			ids, err = f.devices.RelatedIDs(ctx, s, dev, "tags")
			return err
		}))
		return ids
	}
	set := func(ids []any) error {
		return f.tx(t, func(ctx context.Context, s *db.Session) error {
			return f.devices.UpdateRelationshipField(ctx, s, dev, "tags", ids)
		})
	}

	require.NoError(t, set([]any{t1.ID, t2.ID}))
	assert.Equal(t, []any{t1.ID, t2.ID}, related())

	require.NoError(t, set([]any{t2.ID, t3.ID, t3.ID}))
	assert.Equal(t, []any{t2.ID, t3.ID}, related())

	err := set([]any{t1.ID, int64(999)})
	require.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, []any{t2.ID, t3.ID}, related())

	require.NoError(t, set([]any{}))
	assert.Empty(t, related())
	require.NoError(t, set(nil))
	assert.Empty(t, related())
}

func TestListAndCount(t *testing.T) {
	f := newFixture(t)
	site := f.site(t, "ams1")
	for _, name := range []string{"r1", "r2", "r3", "staging"} {
		f.rack(t, site.ID, name)
	}

	require.NoError(t, f.tx(t, func(ctx context.Context, s *db.Session) error {
		total, page, err := f.racks.ListAndCount(ctx, s, filter.Spec{
			Fields:  map[string]any{"name__ic": "R"},
			OrderBy: "name",
			Desc:    true,
			Limit:   2,
		})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, page, 2)
		assert.Equal(t, "r3", page[0].Name)
		assert.Equal(t, "r2", page[1].Name)

		total, page, err = f.racks.ListAndCount(ctx, s, filter.Spec{Q: "stag"})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Equal(t, "staging", page[0].Name)
		return nil
	}))
}

func TestListFiltersDocumentEquality(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tx(t, func(ctx context.Context, s *db.Session) error {
		for i, doc := range []map[string]any{{"a": 1}, {"a": 2}} {
			name := fmt.Sprintf("edge%d", i+1)
			if _, err := f.devices.Create(ctx, s, Values{"name": name, "custom_fields": doc}); err != nil {
				return err
			}
		}
		return nil
	}))

	list := func(fields map[string]any) (int, []*inventory.Device, error) {
		var total int
		var page []*inventory.Device
		err := f.tx(t, func(ctx context.Context, s *db.Session) error {
			var err error
			total, page, err = f.devices.ListAndCount(ctx, s, filter.Spec{Fields: fields, OrderBy: "name"})
			return err
		})
		return total, page, err
	}

	total, page, err := list(map[string]any{"custom_fields": `{"a":1}`})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, page, 1)
	assert.Equal(t, "edge1", page[0].Name)

	total, _, err = list(map[string]any{"custom_fields": `{ "a" : 2 }`})
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	total, page, err = list(map[string]any{"custom_fields__ne": map[string]any{"a": 1}})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "edge2", page[0].Name)

	total, _, err = list(map[string]any{"custom_fields": []any{`{"a":1}`, `{"a":2}`}})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	_, _, err = list(map[string]any{"custom_fields__gte": `{"a":1}`})
	assert.ErrorIs(t, err, apperr.ErrInvalid)
}

func TestViolationNamesReportedConstraint(t *testing.T) {
	f := newFixture(t)
	info := &introspect.ConstraintInfo{
		UniqueConstraints: [][]string{{"name"}, {"site_id", "name"}},
		ForeignKeys: map[string]db.Reference{
			"site_id": {Table: "sites", Column: "id"},
			"rack_id": {Table: "racks", Column: "id"},
			"zone_id": {Table: "zones", Column: "id"},
		},
	}
	current := map[string]any{"id": int64(5), "site_id": int64(1), "name": "r1"}

	require.NoError(t, f.tx(t, func(ctx context.Context, s *db.Session) error {
		err := f.racks.mapViolation(s, info, Values{"name": "r2"}, current,
			errors.New("UNIQUE constraint failed: racks.site_id, racks.name"))
		var ae *apperr.AlreadyExistsError
		require.ErrorAs(t, err, &ae)
		assert.Equal(t, "site_id,name", ae.Field)
		assert.Equal(t, "(1, r2)", ae.Value)

		values := Values{"zone_id": int64(3), "site_id": int64(2), "rack_id": int64(9)}
		for range 20 {
			err = f.racks.mapViolation(s, info, values, nil, errors.New("FOREIGN KEY constraint failed"))
			var nf *apperr.NotFoundError
			require.ErrorAs(t, err, &nf)
			assert.Equal(t, "rack_id", nf.Field)
			assert.Equal(t, "racks", nf.Entity)
		}
		return nil
	}))
}

func TestListPreloadsRelations(t *testing.T) {
	f := newFixture(t)

	var tagged, bare *inventory.Device
	require.NoError(t, f.tx(t, func(ctx context.Context, s *db.Session) error {
		var err error
		if tagged, err = f.devices.Create(ctx, s, Values{"name": "a"}); err != nil {
			return err
		}
		if bare, err = f.devices.Create(ctx, s, Values{"name": "b"}); err != nil {
			return err
		}
		tag, err := f.tags.Create(ctx, s, Values{"name": "core"})
		if err != nil {
			return err
		}
		return f.devices.UpdateRelationshipField(ctx, s, tagged, "tags", []any{tag.ID})
	}))

	require.NoError(t, f.tx(t, func(ctx context.Context, s *db.Session) error {
		total, page, err := f.devices.ListAndCount(ctx, s, filter.Spec{OrderBy: "name"}, Preload("tags"))
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		require.Len(t, page, 2)
		assert.Equal(t, tagged.ID, page[0].ID)
		assert.Len(t, page[0].Tags, 1)
		assert.Equal(t, bare.ID, page[1].ID)
		assert.Empty(t, page[1].Tags)
		return nil
	}))
}

type gadget struct {
	ID     int64  `db:"id" schema:"pk"`
	Name   string `db:"name"`
	Active bool   `db:"active"`
}

func TestStorageUniqueViolationIsMapped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// Partial indexes are not introspected, so only the store catches this.
	require.NoError(t, f.engine.ExecScript(ctx, `
		CREATE TABLE gadgets (id INTEGER PRIMARY KEY, name TEXT NOT NULL, active INTEGER NOT NULL DEFAULT 1);
		CREATE UNIQUE INDEX gadgets_active_name ON gadgets (name) WHERE active = 1;
	`))
	gadgets := schema.MustNew[gadget]("Gadget", "gadgets")
	repo := MustNew[gadget](gadgets, introspect.New(f.engine), filter.NewCompiler(f.engine.Dialect(), nil))

	create := func() error {
		return f.tx(t, func(ctx context.Context, s *db.Session) error {
			_, err := repo.Create(ctx, s, Values{"name": "g", "active": true})
			return err
		})
	}
	require.NoError(t, create())
	err := create()
	require.ErrorIs(t, err, apperr.ErrAlreadyExists)
	var ae *apperr.AlreadyExistsError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "active,name", ae.Field)
	assert.Equal(t, 1, f.count(t, "gadgets"))
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	site := f.site(t, "ams1")
	f.rack(t, site.ID, "r1")

	require.NoError(t, f.tx(t, func(ctx context.Context, s *db.Session) error {
		return f.sites.Delete(ctx, s, site)
	}))
	assert.Equal(t, 0, f.count(t, "sites"))
	assert.Equal(t, 0, f.count(t, "racks"))
}
