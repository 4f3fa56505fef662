// Package address encodes sender addresses into provenance-preserving
// addresses on the relay's own verified domain.
package address

import "strings"

// EmailAddress is a single free-form address header value split into its
// display name and addr-spec parts.
type EmailAddress struct {
	DisplayName string
	LocalPart   string
	Domain      string

	// hasAt distinguishes "user" from "user@" since both have an empty Domain.
	hasAt bool
}

// Parse splits a header value of the form `"Display Name" <local@domain>`,
// `<local@domain>` or bare `local@domain`. It never fails: malformed input
// yields an address that still encodes deterministically.
//
// Only the first "<" is treated as the delimiter and only one trailing ">"
// is removed, so nothing in the input is silently dropped.
func Parse(raw string) EmailAddress {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimSuffix(raw, ">")

	var a EmailAddress
	spec := raw
	if name, rest, found := strings.Cut(raw, "<"); found {
		a.DisplayName = strings.TrimSpace(name)
		spec = rest
	}
	spec = strings.TrimSpace(spec)

	if i := strings.LastIndexByte(spec, '@'); i >= 0 {
		a.LocalPart = spec[:i]
		a.Domain = spec[i+1:]
		a.hasAt = true
	} else {
		a.LocalPart = spec
	}
	return a
}

// Addr returns the addr-spec as it appeared between the angle brackets.
func (a EmailAddress) Addr() string {
	if !a.hasAt {
		return a.LocalPart
	}
	return a.LocalPart + "@" + a.Domain
}

// EncodedLocal folds the whole addr-spec into a single local part by
// replacing every "@" with "_".
func (a EmailAddress) EncodedLocal() string {
	return strings.ReplaceAll(a.Addr(), "@", "_")
}

// Encode returns the address rewritten onto domain, keeping the display name
// when there is one.
func (a EmailAddress) Encode(domain string) string {
	addr := a.EncodedLocal() + "@" + domain
	if a.DisplayName == "" {
		return addr
	}
	return a.DisplayName + " <" + addr + ">"
}

// Codec applies the address encoding for a fixed outbound domain.
// The zero value is not useful; Domain must be set.
type Codec struct {
	Domain string
}

// NewCodec returns a Codec that encodes onto domain.
func NewCodec(domain string) Codec {
	return Codec{Domain: domain}
}

// Encode transforms raw into its encoded form. With userOnly set only the
// encoded local part is returned; that form is used for storage keys and is
// never written into a header.
func (c Codec) Encode(raw string, userOnly bool) string {
	a := Parse(raw)
	if userOnly {
		return a.EncodedLocal()
	}
	return a.Encode(c.Domain)
}

// Address returns the header form of the encoded address.
func (c Codec) Address(raw string) string {
	return c.Encode(raw, false)
}

// User returns only the encoded local part of raw.
func (c Codec) User(raw string) string {
	return c.Encode(raw, true)
}

// Bare returns the encoded address without any display name, suitable for
// an SMTP envelope.
func (c Codec) Bare(raw string) string {
	return Parse(raw).EncodedLocal() + "@" + c.Domain
}

// RetargetDomain keeps the local part of addr (everything before the first
// "@") and replaces the domain with domain.
func RetargetDomain(addr, domain string) string {
	local, _, _ := strings.Cut(strings.TrimSpace(addr), "@")
	return local + "@" + domain
}
