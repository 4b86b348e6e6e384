package deliver

import (
	"crypto/tls"
	"crypto/x509"
	"io/ioutil"

	"github.com/linehouse/linehouse/lineerror"
)

// TLSMode selects how the server certificate chain is verified.
type TLSMode int

const (
	// TLSDisabled means plain, unencrypted transport.
	TLSDisabled TLSMode = iota
	// TLSVerify uses the platform trust store.
	TLSVerify
	// TLSCustomCA trusts only the roots supplied in TLSConf.
	TLSCustomCA
	// TLSInsecureSkipVerify disables certificate verification entirely.
	TLSInsecureSkipVerify
)

// TLSConf describes the trust mode for a TLS-wrapped transport.
type TLSConf struct {
	Mode TLSMode

	// Root bundle for TLSCustomCA: either a file path or raw PEM bytes.
	CACertPath string
	CACertPEM  []byte
}

// Build returns a tls.Config for the configured trust mode, or nil when TLS
// is disabled.
func (c TLSConf) Build() (*tls.Config, error) {
	switch c.Mode {
	case TLSDisabled:
		return nil, nil

	case TLSVerify:
		return &tls.Config{}, nil

	case TLSCustomCA:
		pem := c.CACertPEM
		if len(pem) == 0 {
			if c.CACertPath == "" {
				return nil, lineerror.NewCustom(lineerror.CodeTLS, "Bad TLS config", "custom CA mode needs a cert path or PEM bytes")
			}
			var err error
			pem, err = ioutil.ReadFile(c.CACertPath)
			if err != nil {
				return nil, lineerror.NewCustom(lineerror.CodeTLS, "Could not read CA cert", err.Error())
			}
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, lineerror.NewCustom(lineerror.CodeTLS, "Bad TLS config", "no certificates found in CA bundle")
		}
		return &tls.Config{RootCAs: pool}, nil

	case TLSInsecureSkipVerify:
		return &tls.Config{InsecureSkipVerify: true}, nil
	}

	return nil, lineerror.NewCustom(lineerror.CodeTLS, "Bad TLS config", "unknown trust mode")
}
