package qkeychain

import (
	"bytes"

	"github.com/kardianos/qkeychain/qdef"
	"github.com/kardianos/qkeychain/qindex"
	"github.com/kardianos/qkeychain/qref"
)

// item is one query match. Certificate matches set cert, key matches set key,
// identity matches set both.
type item struct {
	class qdef.Class
	cert  *qdef.Record
	key   *qdef.Record
}

// primary is the row a match is named by: the certificate for an identity.
func (it item) primary() *qdef.Record {
	if it.class == qdef.ClassKey {
		return it.key
	}
	return it.cert
}

func (it item) ref() qdef.Ref {
	if it.class == qdef.ClassIdentity {
		return qdef.NewRef(qdef.ClassIdentity, it.cert.RowID, it.key.RowID)
	}
	return qdef.NewRef(it.class, it.primary().RowID, 0)
}

// target is what a persistent token for the match names.
func (it item) target() qref.Target {
	if it.class == qdef.ClassIdentity {
		return qref.Target{Class: qdef.ClassIdentity, RowID: it.cert.RowID, KeyRowID: it.key.RowID}
	}
	return qref.Target{Class: it.class, RowID: it.primary().RowID}
}

// rows lists the stored rows behind a match.
func (it item) rows() []*qdef.Record {
	switch it.class {
	case qdef.ClassIdentity:
		return []*qdef.Record{it.key, it.cert}
	case qdef.ClassKey:
		return []*qdef.Record{it.key}
	default:
		return []*qdef.Record{it.cert}
	}
}

// keysFor returns the keys whose join key is the certificate's public key hash.
func (k *Keychain) keysFor(cert *qdef.Record) []*qdef.Record {
	return k.index.Find(qdef.ClassKey, qindex.Filter{ApplicationLabel: cert.PublicKeyHash})
}

// identityFor joins a certificate to its key.
func (k *Keychain) identityFor(cert *qdef.Record) (item, bool) {
	keys := k.keysFor(cert)
	if len(keys) == 0 {
		return item{}, false
	}
	return item{class: qdef.ClassIdentity, cert: cert, key: keys[0]}, true
}

// certFilter is the certificate half of an identity predicate. Label, issuer,
// subject and serial number are matched against the certificate. The key's
// application label must equal the certificate's public key hash, so it
// becomes a public key hash constraint.
func certFilter(q qdef.Query) (qindex.Filter, bool) {
	f := qindex.Filter{
		Label:         q.Label,
		Issuer:        q.Issuer,
		Subject:       q.Subject,
		SerialNumber:  q.SerialNumber,
		PublicKeyHash: q.PublicKeyHash,
	}
	if q.ApplicationLabel != nil {
		if f.PublicKeyHash != nil && !bytes.Equal(f.PublicKeyHash, q.ApplicationLabel) {
			return f, false
		}
		f.PublicKeyHash = q.ApplicationLabel
	}
	return f, true
}

// findIdentities joins certificates matching q to their keys. When several
// matching certificates share one key, the tie-break policy picks one.
// Results are in ascending certificate row order.
func (k *Keychain) findIdentities(q qdef.Query) []item {
	f, ok := certFilter(q)
	if !ok {
		return nil
	}
	certs := k.index.Find(qdef.ClassCertificate, f)

	best := make(map[string]*qdef.Record, len(certs))
	for _, c := range certs {
		h := string(c.PublicKeyHash)
		if cur, ok := best[h]; !ok || k.tieBreak.Prefer(c.RowID, cur.RowID) {
			best[h] = c
		}
	}
	var out []item
	for _, c := range certs {
		if best[string(c.PublicKeyHash)] != c {
			continue
		}
		if it, ok := k.identityFor(c); ok {
			out = append(out, it)
		}
	}
	return out
}

// FindIdentity returns the identities matching q. q.Class may be left unset.
func (k *Keychain) FindIdentity(q qdef.Query) (qdef.Result, error) {
	switch q.Class {
	case qdef.ClassUnspecified:
		q.Class = qdef.ClassIdentity
	case qdef.ClassIdentity:
	default:
		return qdef.Result{}, qdef.ParamError{Option: qdef.OptClass, Reason: "must be identity"}
	}
	return k.CopyMatching(q)
}

// CopyCertificateFromIdentity returns a handle to the certificate of an identity.
func (k *Keychain) CopyCertificateFromIdentity(identity qdef.Ref) (qdef.Ref, error) {
	it, err := k.identityRows(identity)
	if err != nil {
		return qdef.Ref{}, err
	}
	return qdef.NewRef(qdef.ClassCertificate, it.cert.RowID, 0), nil
}

// CopyKeyFromIdentity returns a handle to the private key of an identity.
func (k *Keychain) CopyKeyFromIdentity(identity qdef.Ref) (qdef.Ref, error) {
	it, err := k.identityRows(identity)
	if err != nil {
		return qdef.Ref{}, err
	}
	return qdef.NewRef(qdef.ClassKey, it.key.RowID, 0), nil
}

func (k *Keychain) identityRows(identity qdef.Ref) (item, error) {
	if identity.Class() != qdef.ClassIdentity {
		return item{}, qdef.ParamError{Option: qdef.OptValueRef, Reason: "not an identity"}
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	if err := k.ready(); err != nil {
		return item{}, err
	}
	return k.fromRef(identity)
}
