package auth

import (
	"strconv"
)

// ParameterProvider offers the default username and password given as
// run-time parameters.  It serves KindSimple or KindUsername.
func ParameterProvider(kind string) Provider {
	return paramProvider{kind: kind}
}

type paramProvider struct {
	kind string
}

func (p paramProvider) CredKind() string { return p.kind }

func (p paramProvider) Attempts(req *Request) Attempts {
	return single(func() (Credentials, error) {
		user := req.String(ParamDefaultUsername)
		if user == "" {
			return nil, nil
		}
		if p.kind == KindUsername {
			return UsernameCredentials{Username: user, MaySave: req.MaySave()}, nil
		}
		pass, ok := req.Param(ParamDefaultPassword).(string)
		if !ok {
			return nil, nil
		}
		return SimpleCredentials{Username: user, Password: pass, MaySave: req.MaySave()}, nil
	})
}

// PlaintextPrompt asks whether a password may be stored unencrypted for
// realm.
type PlaintextPrompt func(realm string) (bool, error)

// SimpleProvider offers the user name and password saved in store, and
// saves the ones accepted.  Passwords are stored in plain text only if
// plaintext is nil or agrees; otherwise only the user name is kept.
func SimpleProvider(store Store, plaintext PlaintextPrompt) Provider {
	return &simpleProvider{store: store, plaintext: plaintext}
}

type simpleProvider struct {
	store     Store
	plaintext PlaintextPrompt
}

func (p *simpleProvider) CredKind() string { return KindSimple }

func (p *simpleProvider) Attempts(req *Request) Attempts {
	return single(func() (Credentials, error) {
		data, err := p.store.Load(KindSimple, req.Realm)
		if err != nil || data == nil {
			return nil, err
		}
		user, pass := data[attrUsername], data[attrPassword]
		if def := req.String(ParamDefaultUsername); def != "" && def != user {
			return nil, nil
		}
		if _, ok := data[attrPassword]; !ok || user == "" {
			return nil, nil
		}
		// Already stored, so they outlive the session in the cache.
		return SimpleCredentials{Username: user, Password: pass, MaySave: true}, nil
	})
}

func (p *simpleProvider) Save(req *Request, creds Credentials) (bool, error) {
	c, ok := creds.(SimpleCredentials)
	if !ok {
		return false, nil
	}
	if old, err := p.store.Load(KindSimple, req.Realm); err == nil && old[attrUsername] == c.Username {
		if pass, ok := old[attrPassword]; ok && pass == c.Password {
			return true, nil
		}
	}
	data := map[string]string{attrUsername: c.Username}
	storePassword := !req.Bool(ParamDontStorePasswords)
	if storePassword && p.plaintext != nil {
		var err error
		if storePassword, err = p.plaintext(req.Realm); err != nil {
			return false, err
		}
	}
	if storePassword {
		data[attrPassword] = c.Password
		data[attrPasstype] = "simple"
	}
	return true, p.store.Save(KindSimple, req.Realm, data)
}

// UsernameProvider offers the user name saved in store, and saves the
// ones accepted.
func UsernameProvider(store Store) Provider {
	return &usernameProvider{store: store}
}

type usernameProvider struct {
	store Store
}

func (p *usernameProvider) CredKind() string { return KindUsername }

func (p *usernameProvider) Attempts(req *Request) Attempts {
	return single(func() (Credentials, error) {
		data, err := p.store.Load(KindUsername, req.Realm)
		if err != nil || data[attrUsername] == "" {
			return nil, err
		}
		return UsernameCredentials{Username: data[attrUsername], MaySave: true}, nil
	})
}

func (p *usernameProvider) Save(req *Request, creds Credentials) (bool, error) {
	c, ok := creds.(UsernameCredentials)
	if !ok {
		return false, nil
	}
	return true, p.store.Save(KindUsername, req.Realm, map[string]string{attrUsername: c.Username})
}

// SSLServerTrustFileProvider trusts server certificates previously
// accepted permanently, for the failures accepted back then.
func SSLServerTrustFileProvider(store Store) Provider {
	return &serverTrustFileProvider{store: store}
}

type serverTrustFileProvider struct {
	store Store
}

func (p *serverTrustFileProvider) CredKind() string { return KindSSLServer }

func (p *serverTrustFileProvider) Attempts(req *Request) Attempts {
	return single(func() (Credentials, error) {
		info := req.CertInfo()
		if info == nil {
			return nil, nil
		}
		data, err := p.store.Load(KindSSLServer, req.Realm)
		if err != nil || data == nil {
			return nil, err
		}
		if data[attrASCIICert] != info.ASCIICert {
			return nil, nil
		}
		accepted, err := strconv.ParseUint(data[attrFailures], 10, 32)
		if err != nil {
			return nil, nil
		}
		return SSLServerTrust{AcceptedFailures: uint32(accepted)}, nil
	})
}

func (p *serverTrustFileProvider) Save(req *Request, creds Credentials) (bool, error) {
	c, ok := creds.(SSLServerTrust)
	info := req.CertInfo()
	if !ok || info == nil {
		return false, nil
	}
	return true, p.store.Save(KindSSLServer, req.Realm, map[string]string{
		attrASCIICert: info.ASCIICert,
		attrFailures:  strconv.FormatUint(uint64(c.AcceptedFailures), 10),
	})
}

// SSLClientCertFileProvider offers the client certificate saved for the
// realm in store.
func SSLClientCertFileProvider(store Store) Provider {
	return &clientCertFileProvider{store: store}
}

type clientCertFileProvider struct {
	store Store
}

func (p *clientCertFileProvider) CredKind() string { return KindSSLClientCert }

func (p *clientCertFileProvider) Attempts(req *Request) Attempts {
	return single(func() (Credentials, error) {
		data, err := p.store.Load(KindSSLClientCert, req.Realm)
		if err != nil || data[attrCertPath] == "" {
			return nil, err
		}
		return SSLClientCertCredentials{Path: data[attrCertPath], Passphrase: data[attrPassphrase]}, nil
	})
}

func (p *clientCertFileProvider) Save(req *Request, creds Credentials) (bool, error) {
	c, ok := creds.(SSLClientCertCredentials)
	if !ok {
		return false, nil
	}
	data := map[string]string{attrCertPath: c.Path}
	if !req.Bool(ParamDontStorePasswords) && c.Passphrase != "" {
		data[attrPassphrase] = c.Passphrase
	}
	return true, p.store.Save(KindSSLClientCert, req.Realm, data)
}
