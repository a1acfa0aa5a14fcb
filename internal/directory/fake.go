package directory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hkdb/dirsync/internal/directoryval"
)

// FakeGateway is an in-memory Gateway used by internal/reconcile,
// internal/tenant, and internal/initload tests. It implements exactly the
// subset of LDAP semantics the Reconciler relies on: one-level and
// whole-subtree searches scoped by DN suffix matching, and the same
// "uniqueId" / "cn" filters the real gateway exposes.
type FakeGateway struct {
	entries map[string]*Entry // dn -> entry
	// PasswordChanges records every ChangePassword call, dn -> password,
	// so tests can assert "exactly N directory calls observed".
	PasswordChanges []PasswordChange
	// ModifyCalls / AddCalls / DeleteCalls / ModifyDNCalls count write
	// operations for idempotence assertions.
	ModifyCalls   int
	AddCalls      int
	DeleteCalls   int
	ModifyDNCalls int
}

// PasswordChange records one ChangePassword invocation.
type PasswordChange struct {
	DN       string
	Password string
}

// NewFakeGateway returns an empty fake directory.
func NewFakeGateway() *FakeGateway {
	return &FakeGateway{entries: make(map[string]*Entry)}
}

// Seed inserts an entry directly, bypassing Add, for test setup.
func (f *FakeGateway) Seed(e *Entry) {
	f.entries[e.DN] = cloneEntry(e)
}

func (f *FakeGateway) Bind(ctx context.Context) error { return nil }
func (f *FakeGateway) Close() error                   { return nil }

func (f *FakeGateway) SearchByDN(ctx context.Context, dn string) (*Entry, error) {
	e, ok := f.entries[dn]
	if !ok {
		return nil, nil
	}
	return cloneEntry(e), nil
}

// isImmediateChildOf reports whether dn is exactly one RDN below baseDN.
func isImmediateChildOf(dn, baseDN string) bool {
	suffix := "," + baseDN
	if !strings.HasSuffix(dn, suffix) {
		return false
	}
	rdn := strings.TrimSuffix(dn, suffix)
	return !strings.Contains(rdn, ",")
}

func (f *FakeGateway) SearchByUniqueID(ctx context.Context, baseDN, uniqueID string) ([]*Entry, error) {
	var out []*Entry
	for dn, e := range f.entries {
		if !isImmediateChildOf(dn, baseDN) {
			continue
		}
		if e.Attr("uniqueId").Scalar == uniqueID {
			out = append(out, cloneEntry(e))
		}
	}
	sortEntries(out)
	return out, nil
}

func (f *FakeGateway) SearchByCNSubtree(ctx context.Context, rootDN, cn string) ([]*Entry, error) {
	var out []*Entry
	for dn, e := range f.entries {
		if !strings.HasSuffix(dn, ","+rootDN) && dn != rootDN {
			continue
		}
		if e.Attr("cn").Scalar == cn {
			out = append(out, cloneEntry(e))
		}
	}
	sortEntries(out)
	return out, nil
}

func (f *FakeGateway) ListAll(ctx context.Context, baseDN string) ([]*Entry, error) {
	var out []*Entry
	for dn, e := range f.entries {
		if dn != baseDN && !strings.HasSuffix(dn, ","+baseDN) {
			continue
		}
		if e.Attr("uniqueId").IsAbsent() {
			continue
		}
		out = append(out, cloneEntry(e))
	}
	sortEntries(out)
	return out, nil
}

func (f *FakeGateway) Add(ctx context.Context, dn string, attrs map[string]directoryval.Value) error {
	f.AddCalls++
	if _, exists := f.entries[dn]; exists {
		return fmt.Errorf("directory: fake add: %s already exists", dn)
	}
	cp := make(map[string]directoryval.Value, len(attrs))
	for k, v := range attrs {
		if v.IsAbsent() {
			continue
		}
		cp[k] = v
	}
	f.entries[dn] = &Entry{DN: dn, Attributes: cp}
	return nil
}

func (f *FakeGateway) Modify(ctx context.Context, dn string, replace, del map[string]directoryval.Value) error {
	if len(replace) == 0 && len(del) == 0 {
		return nil
	}
	f.ModifyCalls++
	e, ok := f.entries[dn]
	if !ok {
		return fmt.Errorf("directory: fake modify: %s not found", dn)
	}
	for k, v := range replace {
		e.Attributes[k] = v
	}
	for k := range del {
		delete(e.Attributes, k)
	}
	return nil
}

func (f *FakeGateway) ModifyDN(ctx context.Context, dn, newRDN string) error {
	f.ModifyDNCalls++
	e, ok := f.entries[dn]
	if !ok {
		return fmt.Errorf("directory: fake modify-dn: %s not found", dn)
	}
	delete(f.entries, dn)
	parent := dn[strings.Index(dn, ",")+1:]
	newDN := newRDN + "," + parent
	e.DN = newDN
	k, v, _ := strings.Cut(newRDN, "=")
	e.Attributes[k] = directoryval.String(v)
	f.entries[newDN] = e
	return nil
}

func (f *FakeGateway) Delete(ctx context.Context, dn string) error {
	f.DeleteCalls++
	if _, ok := f.entries[dn]; !ok {
		return fmt.Errorf("directory: fake delete: %s not found", dn)
	}
	delete(f.entries, dn)
	return nil
}

func (f *FakeGateway) ChangePassword(ctx context.Context, dn, newPassword string) error {
	f.PasswordChanges = append(f.PasswordChanges, PasswordChange{DN: dn, Password: newPassword})
	return nil
}

// Entries returns every entry currently stored, for assertions.
func (f *FakeGateway) Entries() []*Entry {
	out := make([]*Entry, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, cloneEntry(e))
	}
	sortEntries(out)
	return out
}

func sortEntries(es []*Entry) {
	sort.Slice(es, func(i, j int) bool { return es[i].DN < es[j].DN })
}

func cloneEntry(e *Entry) *Entry {
	cp := make(map[string]directoryval.Value, len(e.Attributes))
	for k, v := range e.Attributes {
		cp[k] = v
	}
	return &Entry{DN: e.DN, Attributes: cp}
}
