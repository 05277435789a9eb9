package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/tuannm99/novacat/internal/catalog/systable"
	"github.com/tuannm99/novacat/internal/expr"
	"github.com/tuannm99/novacat/internal/lock"
	"github.com/tuannm99/novacat/internal/record"
	"github.com/tuannm99/novacat/internal/relcache"
	"github.com/tuannm99/novacat/internal/txn"
	"github.com/tuannm99/novacat/internal/txn/inval"
)

// attrNames resolves column positions of rel against its visible attribute
// rows, so it only sees columns registered before the last command bump.
func (m *Manager) attrNames(ctx context.Context, tx *txn.Txn, rel record.Oid) (expr.AttrNamer, error) {
	att, err := systable.Open(ctx, m.store, tx, systable.Attributes, lock.AccessShare)
	if err != nil {
		return nil, err
	}
	defer att.Close()

	rows, err := att.Collect(systable.K().Oid(rel))
	if err != nil {
		return nil, err
	}
	names := make(map[int16]string, len(rows))
	for _, r := range rows {
		names[r.Num] = r.Name
	}
	return func(num int16) (string, bool) {
		n, ok := names[num]
		return n, ok
	}, nil
}

// StoreDefault persists a serialized default for column num of rel and marks
// the column as having one.
func (m *Manager) StoreDefault(ctx context.Context, tx *txn.Txn, rel record.Oid, num int16, bin []byte) error {
	err := m.obs.observe(ctx, "store_default", func(ctx context.Context) error {
		return m.storeDefault(ctx, tx, rel, num, bin)
	})
	if err != nil {
		return err
	}
	tx.CommandCounterIncrement()
	return nil
}

func (m *Manager) storeDefault(ctx context.Context, tx *txn.Txn, rel record.Oid, num int16, bin []byte) error {
	n, err := expr.Decode(bin)
	if err != nil {
		return err
	}
	names, err := m.attrNames(ctx, tx, rel)
	if err != nil {
		return err
	}
	src, err := expr.Deparse(n, names)
	if err != nil {
		return exprError(err)
	}

	defs, err := systable.Open(ctx, m.store, tx, systable.Defaults, lock.RowExclusive)
	if err != nil {
		return err
	}
	err = defs.Insert(&systable.DefaultRow{RelID: rel, Num: num, Bin: bin, Src: src})
	defs.Close()
	if errors.Is(err, systable.ErrUniqueViolation) {
		return fmt.Errorf("%w: column %d of relation %d already has a default", ErrNameConflict, num, rel)
	}
	if err != nil {
		return err
	}

	att, err := systable.Open(ctx, m.store, tx, systable.Attributes, lock.RowExclusive)
	if err != nil {
		return err
	}
	defer att.Close()
	row, ok, err := att.Get(systable.K().Oid(rel).Int16(num))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: attribute %d of relation %d", ErrInvariantViolation, num, rel)
	}
	if row.HasDef {
		return nil
	}
	row.HasDef = true
	return att.Update(row)
}

// StoreCheck persists a serialized implicit-AND check list under name. The
// caller maintains the relation's check count.
func (m *Manager) StoreCheck(ctx context.Context, tx *txn.Txn, rel record.Oid, name string, bin []byte) error {
	err := m.obs.observe(ctx, "store_check", func(ctx context.Context) error {
		return m.storeCheck(ctx, tx, rel, name, bin)
	})
	if err != nil {
		return err
	}
	tx.CommandCounterIncrement()
	return nil
}

func (m *Manager) storeCheck(ctx context.Context, tx *txn.Txn, rel record.Oid, name string, bin []byte) error {
	list, err := expr.DecodeList(bin)
	if err != nil {
		return err
	}
	names, err := m.attrNames(ctx, tx, rel)
	if err != nil {
		return err
	}
	src, err := expr.Deparse(expr.MakeAndsExplicit(list), names)
	if err != nil {
		return exprError(err)
	}

	checks, err := systable.Open(ctx, m.store, tx, systable.Checks, lock.RowExclusive)
	if err != nil {
		return err
	}
	defer checks.Close()
	return checks.Insert(&systable.CheckRow{
		ID:    m.ids.Fresh(),
		RelID: rel,
		Name:  name,
		Bin:   bin,
		Src:   src,
	})
}

// SetCheckCount records n as the number of checks on rel. An unchanged
// count still invalidates cached descriptors of rel.
func (m *Manager) SetCheckCount(ctx context.Context, tx *txn.Txn, rel record.Oid, n int16) error {
	err := m.obs.observe(ctx, "set_check_count", func(ctx context.Context) error {
		return m.setCheckCount(ctx, tx, rel, n)
	})
	if err != nil {
		return err
	}
	tx.CommandCounterIncrement()
	return nil
}

func (m *Manager) setCheckCount(ctx context.Context, tx *txn.Txn, rel record.Oid, n int16) error {
	changed := false
	err := m.updateClass(ctx, tx, rel, func(r *systable.ClassRow) bool {
		if r.Checks == n {
			return false
		}
		r.Checks = n
		changed = true
		return true
	})
	if err != nil {
		return err
	}
	if !changed {
		tx.Invalidate(inval.RelCache, rel, "")
	}
	return nil
}

// AddRawConstraints cooks and stores defaults and checks given in source or
// raw-tree form, resolving column names against rel alone.
func (m *Manager) AddRawConstraints(ctx context.Context, tx *txn.Txn, rel record.Oid, defaults []RawColumnDefault, checks []RawCheck) error {
	err := m.obs.observe(ctx, "add_raw_constraints", func(ctx context.Context) error {
		d, err := m.openRelation(ctx, tx, rel, lock.AccessExclusive)
		if err != nil {
			return err
		}
		defer m.cache.Release(d)
		return m.addRawConstraints(ctx, tx, d, defaults, checks)
	})
	if err != nil {
		return err
	}
	tx.CommandCounterIncrement()
	return nil
}

func rawTree(raw *expr.Node, src string) (*expr.Node, error) {
	if raw != nil {
		return raw, nil
	}
	n, err := expr.Parse(src)
	if err != nil {
		return nil, exprError(err)
	}
	return n, nil
}

// cookError separates type failures from other expression failures.
func cookError(err error) error {
	if errors.Is(err, expr.ErrCannotCoerce) {
		return fmt.Errorf("%w: %w", ErrTypeMismatch, err)
	}
	return exprError(err)
}

func rejectForbidden(n *expr.Node, clause string) error {
	if expr.ContainsAggregate(n) {
		return exprError(fmt.Errorf("%w: cannot use aggregate function in %s", expr.ErrAggregate, clause))
	}
	if expr.ReturnsSet(n) {
		return exprError(fmt.Errorf("%w: %s must not return a set", expr.ErrSetReturning, clause))
	}
	return nil
}

func (m *Manager) addRawConstraints(ctx context.Context, tx *txn.Txn, d *relcache.Descriptor, defaults []RawColumnDefault, checks []RawCheck) error {
	for _, def := range defaults {
		if err := m.addRawDefault(ctx, tx, d, def); err != nil {
			return err
		}
	}

	cls, err := m.classRow(ctx, tx, d.ID)
	if err != nil {
		return err
	}
	numChecks := cls.Checks

	used, err := m.checkNames(ctx, tx, d.ID)
	if err != nil {
		return err
	}

	scope := &expr.Scope{RelName: d.Name, Clause: "CHECK constraint"}
	for _, a := range d.Attrs {
		scope.Columns = append(scope.Columns, expr.Column{Name: a.Name, Num: a.Num, Type: a.TypeID})
	}

	named := make(map[string]int, len(checks))
	for _, chk := range checks {
		if chk.Name != "" {
			named[chk.Name]++
		}
	}
	for _, chk := range checks {
		name := chk.Name
		if name != "" {
			if _, dup := used[name]; dup || named[name] > 1 {
				return fmt.Errorf("%w: check constraint %q already exists on %q", ErrNameConflict, name, d.Name)
			}
		} else {
			for j := int(numChecks) + 1; ; j++ {
				name = "$" + strconv.Itoa(j)
				_, dup := used[name]
				if !dup && named[name] == 0 {
					break
				}
			}
			used[name] = struct{}{}
		}

		raw, err := rawTree(chk.Raw, chk.Source)
		if err != nil {
			return err
		}
		n, err := expr.Cook(raw, scope)
		if err != nil {
			return cookError(err)
		}
		if n, err = expr.CoerceToBoolean(n, "CHECK"); err != nil {
			return cookError(err)
		}
		if err := rejectForbidden(n, "CHECK constraint"); err != nil {
			return err
		}

		list := expr.MakeAndsImplicit(expr.Fold(n))
		for _, c := range list {
			expr.FixOpFuncs(c)
		}
		bin, err := expr.EncodeList(list)
		if err != nil {
			return err
		}
		if err := m.storeCheck(ctx, tx, d.ID, name, bin); err != nil {
			return err
		}
		numChecks++
	}

	// always written so every backend rebuilds its descriptor
	return m.setCheckCount(ctx, tx, d.ID, numChecks)
}

func (m *Manager) addRawDefault(ctx context.Context, tx *txn.Txn, d *relcache.Descriptor, def RawColumnDefault) error {
	col, ok := d.AttrByNum(def.Num)
	if !ok || def.Num <= 0 {
		return fmt.Errorf("%w: relation %q has no column %d", ErrSchema, d.Name, def.Num)
	}

	raw, err := rawTree(def.Raw, def.Source)
	if err != nil {
		return err
	}
	n, err := expr.Cook(raw, &expr.Scope{RelName: d.Name, NoColumns: true, Clause: "DEFAULT clause"})
	if err != nil {
		return cookError(err)
	}
	if err := rejectForbidden(n, "DEFAULT clause"); err != nil {
		return err
	}
	// coercibility only; the expression is stored as written and coerced
	// when the default is applied
	if _, err := expr.Coerce(n, col.TypeID, record.CoerceAssignment); err != nil {
		return fmt.Errorf("%w: column %q is of type %s but default expression is of type %s",
			ErrTypeMismatch, col.Name, record.FormatType(col.TypeID), record.FormatType(n.Type))
	}

	n = expr.Fold(n)
	if n.IsConst() && n.IsNull {
		slog.Debug("catalog: null default not stored", "rel", d.Name, "column", col.Name)
		return nil
	}
	expr.FixOpFuncs(n)
	bin, err := expr.Encode(n)
	if err != nil {
		return err
	}
	return m.storeDefault(ctx, tx, d.ID, def.Num, bin)
}

// checkNames returns the visible check names on rel.
func (m *Manager) checkNames(ctx context.Context, tx *txn.Txn, rel record.Oid) (map[string]struct{}, error) {
	checks, err := systable.Open(ctx, m.store, tx, systable.Checks, lock.AccessShare)
	if err != nil {
		return nil, err
	}
	defer checks.Close()

	rows, err := checks.Collect(systable.K().Oid(rel))
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		out[r.Name] = struct{}{}
	}
	return out, nil
}

// RemoveCheckConstraint deletes every check named name on rel, and with
// recurse on every relation inheriting from rel. It returns how many rows
// were removed in total.
func (m *Manager) RemoveCheckConstraint(ctx context.Context, tx *txn.Txn, rel record.Oid, name string, recurse bool) (int, error) {
	var removed int
	err := m.obs.observe(ctx, "remove_check", func(ctx context.Context) error {
		if err := tx.Lock(ctx, rel, lock.AccessExclusive); err != nil {
			return err
		}
		if recurse {
			kids, err := m.descendants(ctx, tx, rel)
			if err != nil {
				return err
			}
			for _, kid := range kids {
				if err := tx.Lock(ctx, kid, lock.AccessExclusive); err != nil {
					return err
				}
				n, err := m.removeCheck(ctx, tx, kid, name)
				if err != nil {
					return err
				}
				removed += n
			}
		}
		n, err := m.removeCheck(ctx, tx, rel, name)
		if err != nil {
			return err
		}
		removed += n
		return nil
	})
	if err != nil {
		return 0, err
	}
	tx.CommandCounterIncrement()
	return removed, nil
}

func (m *Manager) removeCheck(ctx context.Context, tx *txn.Txn, rel record.Oid, name string) (int, error) {
	checks, err := systable.Open(ctx, m.store, tx, systable.Checks, lock.RowExclusive)
	if err != nil {
		return 0, err
	}
	rows, err := checks.CollectIndex(systable.IdxCheckName, systable.K().Oid(rel).Str(name))
	if err == nil {
		for _, r := range rows {
			if err = checks.Delete(r); err != nil {
				break
			}
		}
	}
	checks.Close()
	if err != nil {
		return 0, err
	}

	cls, err := m.classRow(ctx, tx, rel)
	if err != nil {
		return 0, err
	}
	left := int(cls.Checks) - len(rows)
	if left < 0 {
		return 0, fmt.Errorf("%w: relation %q would have %d checks", ErrInvariantViolation, cls.Name, left)
	}
	if err := m.setCheckCount(ctx, tx, rel, int16(left)); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// descendants lists every relation inheriting from rel, directly or not,
// nearest first.
func (m *Manager) descendants(ctx context.Context, tx *txn.Txn, rel record.Oid) ([]record.Oid, error) {
	inh, err := systable.Open(ctx, m.store, tx, systable.Inherits, lock.AccessShare)
	if err != nil {
		return nil, err
	}
	defer inh.Close()

	seen := map[record.Oid]bool{rel: true}
	var out []record.Oid
	queue := []record.Oid{rel}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		rows, err := inh.CollectIndex(systable.IdxInheritParent, systable.K().Oid(cur))
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			if seen[r.RelID] {
				continue
			}
			seen[r.RelID] = true
			out = append(out, r.RelID)
			queue = append(queue, r.RelID)
		}
	}
	return out, nil
}

// RemoveConstraints deletes every default and check of rel.
func (m *Manager) RemoveConstraints(ctx context.Context, tx *txn.Txn, rel record.Oid) error {
	err := m.obs.observe(ctx, "remove_constraints", func(ctx context.Context) error {
		if err := m.removeConstraints(ctx, tx, rel); err != nil {
			return err
		}
		return m.setCheckCount(ctx, tx, rel, 0)
	})
	if err != nil {
		return err
	}
	tx.CommandCounterIncrement()
	return nil
}

func (m *Manager) removeConstraints(ctx context.Context, tx *txn.Txn, rel record.Oid) error {
	if err := deleteAll(ctx, m.store, tx, systable.Defaults, systable.K().Oid(rel)); err != nil {
		return err
	}
	return deleteAll(ctx, m.store, tx, systable.Checks, systable.K().Oid(rel))
}

// deleteAll removes every visible row of def under prefix.
func deleteAll[R any, P interface {
	*R
	systable.Row
}](ctx context.Context, s *systable.Store, tx *txn.Txn, def *systable.Def[R], prefix []byte) error {
	t, err := systable.Open[R, P](ctx, s, tx, def, lock.RowExclusive)
	if err != nil {
		return err
	}
	defer t.Close()

	rows, err := t.Collect(prefix)
	if err != nil {
		return err
	}
	for _, r := range rows {
		if err := t.Delete(r); err != nil {
			return err
		}
	}
	return nil
}
