package transaction

import (
	"crypto/tls"
	"crypto/x509"
	"io"
	"net/url"

	"github.com/tombee/httpjob/pkg/errors"
	"github.com/tombee/httpjob/pkg/httpjob"
)

// errClientCertRequested aborts a handshake when the server asks for a
// client certificate the consumer has not chosen yet.
var errClientCertRequested = errors.New("client certificate requested")

// certError converts a verification failure from the TLS stack. The
// second result is false when err is not a certificate error.
func certError(err error, host string) (*errors.CertError, bool) {
	var (
		hostErr    x509.HostnameError
		authErr    x509.UnknownAuthorityError
		invalidErr x509.CertificateInvalidError
		verifyErr  *tls.CertificateVerificationError
	)

	ce := &errors.CertError{Host: host, Cause: err}
	switch {
	case errors.As(err, &hostErr):
		ce.Kind = errors.CertCommonNameInvalid
	case errors.As(err, &authErr):
		ce.Kind = errors.CertAuthorityInvalid
	case errors.As(err, &invalidErr):
		switch invalidErr.Reason {
		case x509.Expired:
			ce.Kind = errors.CertDateInvalid
		default:
			ce.Kind = errors.CertInvalid
		}
	case errors.As(err, &verifyErr):
		ce.Kind = errors.CertInvalid
	default:
		return nil, false
	}
	return ce, true
}

// certStatusFor maps a certificate error kind onto its status bit.
func certStatusFor(kind errors.CertErrorKind) httpjob.CertStatus {
	switch kind {
	case errors.CertCommonNameInvalid:
		return httpjob.CertStatusCommonNameInvalid
	case errors.CertDateInvalid:
		return httpjob.CertStatusDateInvalid
	case errors.CertAuthorityInvalid:
		return httpjob.CertStatusAuthorityInvalid
	case errors.CertRevoked:
		return httpjob.CertStatusRevoked
	case errors.CertWeakKey:
		return httpjob.CertStatusWeakKey
	case errors.CertKnownInterceptionBlocked:
		return httpjob.CertStatusKnownInterceptionBlocked
	default:
		return httpjob.CertStatusInvalid
	}
}

// unverifiedChain returns the chain the server presented on a failed
// handshake.
func unverifiedChain(err error) []*x509.Certificate {
	var verifyErr *tls.CertificateVerificationError
	if errors.As(err, &verifyErr) {
		return verifyErr.UnverifiedCertificates
	}
	return nil
}

// readError maps a body read failure. A body cut short is a framing
// error, reported by the framing the response declared.
func readError(err error, chunked bool) error {
	if err == nil || err == io.EOF {
		return err
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		if chunked {
			return errors.Wrap(errors.ErrIncompleteChunkedEncoding, err.Error())
		}
		return errors.Wrap(errors.ErrContentLengthMismatch, err.Error())
	}
	return err
}

// unwrapURLError strips the url.Error some transports add.
func unwrapURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}
