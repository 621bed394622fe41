package emailaddr

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidDestination = errors.New("invalid destination")

// Resolver maps a recipient list onto a chat channel id encoded in the
// local part of the first recipient, e.g. topic-97119@relay.example.com.
type Resolver struct {
	Parser Parser
	Prefix string
}

func NewResolver(p Parser, prefix string) *Resolver {
	if p == nil {
		p = LocalParser{}
	}
	return &Resolver{Parser: p, Prefix: prefix}
}

func (r *Resolver) ResolveChannelID(ctx context.Context, recipients string) (int64, error) {
	first := firstRecipient(recipients)
	if first == "" {
		return 0, fmt.Errorf("%w: no recipient address", ErrInvalidDestination)
	}

	addr, err := First(ctx, r.Parser, first)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidDestination, err)
	}
	if addr.LocalPart == "" {
		return 0, fmt.Errorf("%w: missing local part in %q", ErrInvalidDestination, recipients)
	}
	return ParseChannelID(addr.LocalPart, r.Prefix)
}

// firstRecipient returns the first entry of a comma or whitespace separated
// recipient list. An entry carrying a display name or angle brackets is kept
// whole for the parser.
func firstRecipient(recipients string) string {
	for _, part := range strings.Split(recipients, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Fields(part)
		if len(fields) > 1 && !strings.ContainsAny(part, "<\"") {
			for _, f := range fields {
				if strings.Contains(f, "@") {
					return f
				}
			}
		}
		return part
	}
	return ""
}

// ParseChannelID requires localPart to be prefix followed by decimal digits.
func ParseChannelID(localPart string, prefix string) (int64, error) {
	local := strings.ToLower(localPart)
	prefix = strings.ToLower(prefix)
	if !strings.HasPrefix(local, prefix) {
		return 0, fmt.Errorf("%w: %q does not start with %q", ErrInvalidDestination, localPart, prefix)
	}
	digits := strings.TrimPrefix(local, prefix)
	if digits == "" {
		return 0, fmt.Errorf("%w: %q has no channel id", ErrInvalidDestination, localPart)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: %q is not an integer channel id", ErrInvalidDestination, digits)
		}
	}
	id, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidDestination, err)
	}
	return id, nil
}
