package kb

import (
	"net"
	"net/mail"
	"net/url"
	"regexp"
	"strings"

	"github.com/basilisk-ti/basilisk/errors"
)

// ObservableType discriminates the closed set of observable variants.
type ObservableType string

const (
	TypeURL         ObservableType = "url"
	TypeIP          ObservableType = "ip"
	TypeEmail       ObservableType = "email"
	TypeHostname    ObservableType = "hostname"
	TypeHash        ObservableType = "hash"
	TypeCertificate ObservableType = "certificate"
)

// Variant is the capability every observable type implements: deciding
// whether a raw string belongs to it.
type Variant interface {
	Type() ObservableType
	CheckType(value string) bool
}

// variants is the type-inference order. Earlier variants win: a URL contains
// a hostname, an IP parses as neither, so URL must be probed before Hostname
// and Hash comes last as the loosest match.
var variants = []Variant{
	urlVariant{},
	ipVariant{},
	emailVariant{},
	hostnameVariant{},
	hashVariant{},
}

// GuessType infers the observable type for a raw value by probing each
// variant in priority order (URL, IP, Email, Hostname, Hash). A value that
// matches nothing is a validation error.
func GuessType(value string) (ObservableType, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", errors.Wrap(ErrUnknownType, "empty value")
	}
	if strings.HasPrefix(value, certPrefix) {
		return TypeCertificate, nil
	}
	for _, v := range variants {
		if v.CheckType(value) {
			return v.Type(), nil
		}
	}
	return "", errors.Wrapf(ErrUnknownType, "%q", value)
}

// certPrefix marks certificate observables ("CERT:<sha1>") produced by the
// SSL blacklist feed.
const certPrefix = "CERT:"

type urlVariant struct{}

func (urlVariant) Type() ObservableType { return TypeURL }

func (urlVariant) CheckType(value string) bool {
	u, err := url.Parse(value)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https" || u.Scheme == "ftp") && u.Host != ""
}

type ipVariant struct{}

func (ipVariant) Type() ObservableType { return TypeIP }

func (ipVariant) CheckType(value string) bool {
	return net.ParseIP(value) != nil
}

type emailVariant struct{}

func (emailVariant) Type() ObservableType { return TypeEmail }

func (emailVariant) CheckType(value string) bool {
	if !strings.Contains(value, "@") {
		return false
	}
	addr, err := mail.ParseAddress(value)
	return err == nil && addr.Address == value
}

var hostnamePattern = regexp.MustCompile(
	`^([a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}\.?$`)

type hostnameVariant struct{}

func (hostnameVariant) Type() ObservableType { return TypeHostname }

func (hostnameVariant) CheckType(value string) bool {
	return len(value) <= 255 && hostnamePattern.MatchString(value)
}

// hashPattern matches MD5 (32), SHA1 (40), SHA256 (64) and SHA512 (128)
// hex digests.
var hashPattern = regexp.MustCompile(`^[a-fA-F0-9]{32}$|^[a-fA-F0-9]{40}$|^[a-fA-F0-9]{64}$|^[a-fA-F0-9]{128}$`)

type hashVariant struct{}

func (hashVariant) Type() ObservableType { return TypeHash }

func (hashVariant) CheckType(value string) bool {
	return hashPattern.MatchString(value)
}
