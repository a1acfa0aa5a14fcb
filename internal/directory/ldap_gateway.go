package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog"

	"github.com/hkdb/dirsync/internal/directoryval"
	"github.com/hkdb/dirsync/internal/logging"
)

// pageSize bounds memory on subtree/tree-wide searches via paged traversal.
const pageSize = 500

// rebindBackoff is the delay between bind retries.
const rebindBackoff = 5 * time.Second

// LDAPGateway implements Gateway against a real directory server using
// go-ldap/v3.
type LDAPGateway struct {
	uri      string
	bindDN   string
	password string
	log      zerolog.Logger

	conn *ldap.Conn
}

// NewLDAPGateway constructs a gateway that will Dial uri on first Bind.
func NewLDAPGateway(uri, bindDN, password string) *LDAPGateway {
	return &LDAPGateway{
		uri:      uri,
		bindDN:   bindDN,
		password: password,
		log:      logging.WithComponent("directory"),
	}
}

// Bind (re)establishes the connection and binds, retrying with a 5s
// backoff until successful or ctx is cancelled.
func (g *LDAPGateway) Bind(ctx context.Context) error {
	for {
		conn, err := ldap.DialURL(g.uri)
		if err == nil {
			if err = conn.Bind(g.bindDN, g.password); err == nil {
				g.conn = conn
				return nil
			}
			conn.Close()
		}
		g.log.Error().Err(err).Str("uri", g.uri).Msg("LDAP bind failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(rebindBackoff):
		}
	}
}

// Close releases the underlying connection, if any.
func (g *LDAPGateway) Close() error {
	if g.conn == nil {
		return nil
	}
	err := g.conn.Close()
	g.conn = nil
	return err
}

// ensureBound binds when there is no connection yet, i.e. before the first
// Bind or after Close. A connection that breaks during an operation is
// left in place and is not rebound here; that operation returns its error.
func (g *LDAPGateway) ensureBound(ctx context.Context) error {
	if g.conn != nil {
		return nil
	}
	return g.Bind(ctx)
}

func (g *LDAPGateway) SearchByDN(ctx context.Context, dn string) (*Entry, error) {
	if err := g.ensureBound(ctx); err != nil {
		return nil, err
	}
	req := ldap.NewSearchRequest(
		dn, ldap.ScopeBaseObject, ldap.NeverDerefAliases, 0, 0, false,
		"(objectClass=*)", []string{"*"}, nil,
	)
	res, err := g.conn.Search(req)
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return nil, nil
		}
		return nil, fmt.Errorf("directory: search %s: %w", dn, err)
	}
	if len(res.Entries) == 0 {
		return nil, nil
	}
	if len(res.Entries) > 1 {
		g.log.Error().Str("dn", dn).Int("count", len(res.Entries)).Msg("got more than one record for dn")
	}
	return toEntry(res.Entries[0]), nil
}

func (g *LDAPGateway) SearchByUniqueID(ctx context.Context, baseDN, uniqueID string) ([]*Entry, error) {
	if err := g.ensureBound(ctx); err != nil {
		return nil, err
	}
	filter := fmt.Sprintf("(uniqueId=%s)", ldap.EscapeFilter(uniqueID))
	req := ldap.NewSearchRequest(
		baseDN, ldap.ScopeSingleLevel, ldap.NeverDerefAliases, 0, 0, false,
		filter, []string{"*"}, nil,
	)
	res, err := g.conn.Search(req)
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return nil, nil
		}
		return nil, fmt.Errorf("directory: search uniqueId=%s under %s: %w", uniqueID, baseDN, err)
	}
	if len(res.Entries) > 1 {
		g.log.Warn().Str("base_dn", baseDN).Str("unique_id", uniqueID).Int("count", len(res.Entries)).
			Msg("got more than one record with same unique id")
	}
	out := make([]*Entry, 0, len(res.Entries))
	for _, e := range res.Entries {
		out = append(out, toEntry(e))
	}
	return out, nil
}

func (g *LDAPGateway) SearchByCNSubtree(ctx context.Context, rootDN, cn string) ([]*Entry, error) {
	if err := g.ensureBound(ctx); err != nil {
		return nil, err
	}
	filter := fmt.Sprintf("(cn=%s)", ldap.EscapeFilter(cn))
	req := ldap.NewSearchRequest(
		rootDN, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		filter, []string{"*"}, nil,
	)
	res, err := g.conn.SearchWithPaging(req, pageSize)
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return nil, nil
		}
		return nil, fmt.Errorf("directory: subtree search cn=%s under %s: %w", cn, rootDN, err)
	}
	out := make([]*Entry, 0, len(res.Entries))
	for _, e := range res.Entries {
		out = append(out, toEntry(e))
	}
	return out, nil
}

// ListAll walks the whole subtree under baseDN a page at a time, returning
// every entry that carries a uniqueId attribute (i.e. every previously
// synced person entry, as opposed to the organizational-unit scaffolding
// Initial Load itself creates under the same base).
func (g *LDAPGateway) ListAll(ctx context.Context, baseDN string) ([]*Entry, error) {
	if err := g.ensureBound(ctx); err != nil {
		return nil, err
	}
	req := ldap.NewSearchRequest(
		baseDN, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		"(uniqueId=*)", []string{"*"}, nil,
	)
	res, err := g.conn.SearchWithPaging(req, pageSize)
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return nil, nil
		}
		return nil, fmt.Errorf("directory: list all under %s: %w", baseDN, err)
	}
	out := make([]*Entry, 0, len(res.Entries))
	for _, e := range res.Entries {
		out = append(out, toEntry(e))
	}
	return out, nil
}

func (g *LDAPGateway) Add(ctx context.Context, dn string, attrs map[string]directoryval.Value) error {
	if err := g.ensureBound(ctx); err != nil {
		return err
	}
	req := ldap.NewAddRequest(dn, nil)
	for name, v := range attrs {
		if v.IsAbsent() {
			continue
		}
		req.Attribute(name, v.Strings())
	}
	if err := g.conn.Add(req); err != nil {
		return fmt.Errorf("directory: add %s: %w", dn, err)
	}
	return nil
}

func (g *LDAPGateway) Modify(ctx context.Context, dn string, replace, del map[string]directoryval.Value) error {
	if len(replace) == 0 && len(del) == 0 {
		return nil
	}
	if err := g.ensureBound(ctx); err != nil {
		return err
	}
	req := ldap.NewModifyRequest(dn, nil)
	for name, v := range replace {
		req.Replace(name, v.Strings())
	}
	for name := range del {
		req.Delete(name, nil)
	}
	if err := g.conn.Modify(req); err != nil {
		return fmt.Errorf("directory: modify %s: %w", dn, err)
	}
	return nil
}

func (g *LDAPGateway) ModifyDN(ctx context.Context, dn, newRDN string) error {
	if err := g.ensureBound(ctx); err != nil {
		return err
	}
	req := ldap.NewModifyDNRequest(dn, newRDN, true, "")
	if err := g.conn.ModifyDN(req); err != nil {
		return fmt.Errorf("directory: modify-dn %s -> %s: %w", dn, newRDN, err)
	}
	return nil
}

func (g *LDAPGateway) Delete(ctx context.Context, dn string) error {
	if err := g.ensureBound(ctx); err != nil {
		return err
	}
	req := ldap.NewDelRequest(dn, nil)
	if err := g.conn.Del(req); err != nil {
		return fmt.Errorf("directory: delete %s: %w", dn, err)
	}
	return nil
}

func (g *LDAPGateway) ChangePassword(ctx context.Context, dn, newPassword string) error {
	if err := g.ensureBound(ctx); err != nil {
		return err
	}
	req := ldap.NewPasswordModifyRequest(dn, "", newPassword)
	if _, err := g.conn.PasswordModify(req); err != nil {
		return fmt.Errorf("directory: change password for %s: %w", dn, err)
	}
	return nil
}

func toEntry(e *ldap.Entry) *Entry {
	attrs := make(map[string]directoryval.Value, len(e.Attributes))
	for _, a := range e.Attributes {
		attrs[a.Name] = directoryval.FromStrings(a.Values)
	}
	return &Entry{DN: e.DN, Attributes: attrs}
}
