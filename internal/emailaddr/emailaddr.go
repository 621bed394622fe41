package emailaddr

import (
	"context"
	"fmt"
	"strings"

	"github.com/emersion/go-message/mail"
)

// Address is one parsed mailbox. Guessed is set when the parser could not
// read the input as RFC 5322 and split it heuristically instead.
type Address struct {
	DisplayName string
	LocalPart   string
	Domain      string
	Guessed     bool
}

// Normalized renders the address as lowercase local@domain.
func (a Address) Normalized() string {
	if a.Domain == "" {
		return strings.ToLower(a.LocalPart)
	}
	return strings.ToLower(a.LocalPart + "@" + a.Domain)
}

func (a Address) InDomain(domain string) bool {
	domain = strings.TrimSuffix(strings.TrimSpace(domain), ".")
	if domain == "" || a.Domain == "" {
		return false
	}
	return strings.EqualFold(a.Domain, domain)
}

// Parser turns a raw header value into addresses. Implementations may return
// best-guess results for input they cannot fully parse.
type Parser interface {
	Parse(ctx context.Context, raw string) ([]Address, error)
}

// LocalParser parses addresses in-process.
type LocalParser struct{}

func (LocalParser) Parse(_ context.Context, raw string) ([]Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	list, err := mail.ParseAddressList(raw)
	if err == nil {
		out := make([]Address, 0, len(list))
		for _, addr := range list {
			local, domain := Split(addr.Address)
			out = append(out, Address{DisplayName: addr.Name, LocalPart: local, Domain: domain})
		}
		return out, nil
	}

	var out []Address
	for _, candidate := range strings.Split(raw, ",") {
		candidate = strings.TrimSpace(candidate)
		if i := strings.LastIndex(candidate, "<"); i >= 0 {
			candidate = strings.TrimSuffix(candidate[i+1:], ">")
		}
		if candidate == "" {
			continue
		}
		local, domain := Split(candidate)
		out = append(out, Address{LocalPart: local, Domain: domain, Guessed: true})
	}
	return out, nil
}

// Split cuts an addr-spec at its last '@'.
func Split(addr string) (local string, domain string) {
	addr = strings.TrimSpace(addr)
	i := strings.LastIndex(addr, "@")
	if i < 0 {
		return addr, ""
	}
	return addr[:i], strings.ToLower(addr[i+1:])
}

// First parses raw and returns its first address.
func First(ctx context.Context, p Parser, raw string) (Address, error) {
	addrs, err := p.Parse(ctx, raw)
	if err != nil {
		return Address{}, err
	}
	if len(addrs) == 0 {
		return Address{}, fmt.Errorf("no address in %q", raw)
	}
	return addrs[0], nil
}
