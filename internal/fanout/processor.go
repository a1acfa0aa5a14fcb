package fanout

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hkdb/dirsync/internal/cipher"
	"github.com/hkdb/dirsync/internal/directory"
	"github.com/hkdb/dirsync/internal/directoryval"
	"github.com/hkdb/dirsync/internal/gentime"
	"github.com/hkdb/dirsync/internal/logging"
	"github.com/hkdb/dirsync/internal/person"
	"github.com/hkdb/dirsync/internal/sourcedb"
)

// Upserter is the one Reconciler capability end-of-cycle rename fan-out
// needs: replay a row as a regular (non-new) event against the shared
// tenant. Scoped this narrowly so internal/fanout never imports
// internal/reconcile, which already holds a *Queue (would be cyclic).
type Upserter interface {
	Upsert(ctx context.Context, row person.Record) error
}

// Processor applies the end-of-cycle fan-out against the shared tenant:
// replaying cn renames as regular events, and directly REPLACE-ing (never
// deleting) watched attributes for plain attribute changes observed in
// non-shared tenants.
type Processor struct {
	Directory directory.Gateway
	Cipher    *cipher.Cipher
	Source    sourcedb.Gateway // the shared tenant's own Source Gateway
	Upsert    Upserter
	SharedDN  string

	Now func() time.Time
	log zerolog.Logger
}

// NewProcessor builds a Processor for the shared tenant identified by
// sharedBaseDN.
func NewProcessor(dir directory.Gateway, ciph *cipher.Cipher, source sourcedb.Gateway, upsert Upserter, sharedBaseDN string) *Processor {
	return &Processor{
		Directory: dir,
		Cipher:    ciph,
		Source:    source,
		Upsert:    upsert,
		SharedDN:  sharedBaseDN,
		Now:       time.Now,
		log:       logging.WithComponent("fanout"),
	}
}

// ProcessEndOfCycle drains q and applies both fan-out legs in order:
// renames first (they can change which cn the attribute-change leg would
// have matched), then attribute-only changes.
func (p *Processor) ProcessEndOfCycle(ctx context.Context, q *Queue) error {
	renames, changes := q.Drain()
	if err := p.processRenames(ctx, renames); err != nil {
		return err
	}
	return p.processAttributeChanges(ctx, changes)
}

func (p *Processor) processRenames(ctx context.Context, renames map[string]string) error {
	for oldCN, newCN := range renames {
		rows, err := p.Source.LoadPersonsByUsername(ctx, oldCN, newCN)
		if err != nil {
			return fmt.Errorf("fanout: load %s/%s in shared tenant: %w", oldCN, newCN, err)
		}
		if len(rows) > 1 {
			p.log.Warn().Str("old_cn", oldCN).Str("new_cn", newCN).Int("rows", len(rows)).
				Msg("duplicate cn in shared tenant source for rename fan-out")
		}
		for _, row := range rows {
			if err := p.Upsert.Upsert(ctx, row); err != nil {
				return fmt.Errorf("fanout: upsert %s in shared tenant: %w", row.Username, err)
			}
		}
	}
	return nil
}

func (p *Processor) processAttributeChanges(ctx context.Context, changes map[string]person.Record) error {
	for cn, row := range changes {
		entries, err := p.Directory.SearchByCNSubtree(ctx, p.SharedDN, cn)
		if err != nil {
			return fmt.Errorf("fanout: locate cn=%s in shared tenant: %w", cn, err)
		}
		if len(entries) == 0 {
			p.log.Debug().Str("cn", cn).Msg("attribute fan-out: cn not present in shared tenant")
			continue
		}
		entry := entries[0]
		replace := make(map[string]directoryval.Value)

		if v := directoryval.String(row.Given); !v.Equal(entry.Attr(person.AttrGivenName)) {
			replace[person.AttrGivenName] = v
		}
		if v := directoryval.String(row.Surname); !v.Equal(entry.Attr(person.AttrSN)) {
			replace[person.AttrSN] = v
		}
		if row.EmailStudent != nil {
			if v := directoryval.String(*row.EmailStudent); !v.Equal(entry.Attr(person.AttrEmailStudent)) {
				replace[person.AttrEmailStudent] = v
			}
		}

		passwordChanged := false
		if row.Password != nil && *row.Password != "" {
			if !p.passwordUnchanged(entry, *row.Password) {
				enc, err := p.Cipher.Encrypt([]byte(*row.Password), nil)
				if err != nil {
					return fmt.Errorf("fanout: encrypt password for cn=%s: %w", cn, err)
				}
				replace[person.AttrPassword] = directoryval.String(enc)
				passwordChanged = true
			}
		}

		if len(replace) == 0 {
			continue
		}
		replace[person.AttrEtlTimestamp] = directoryval.String(gentime.Format(p.Now()))
		if err := p.Directory.Modify(ctx, entry.DN, replace, nil); err != nil {
			return fmt.Errorf("fanout: modify %s: %w", entry.DN, err)
		}
		if passwordChanged {
			if err := p.Directory.ChangePassword(ctx, entry.DN, *row.Password); err != nil {
				return fmt.Errorf("fanout: change password %s: %w", entry.DN, err)
			}
		}
	}
	return nil
}

func (p *Processor) passwordUnchanged(entry *directory.Entry, cleartext string) bool {
	current := entry.Attr(person.AttrPassword)
	if current.IsAbsent() {
		return false
	}
	iv, ok := cipher.ExtractIV(current.Scalar)
	if !ok {
		return false
	}
	reencrypted, err := p.Cipher.Encrypt([]byte(cleartext), iv)
	if err != nil {
		return false
	}
	return reencrypted == current.Scalar
}
