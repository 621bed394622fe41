package mailgun

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"mailrelay/internal/emailaddr"
)

// AddressValidator parses addresses through the Mailgun validation API. It
// satisfies emailaddr.Parser.
type AddressValidator struct {
	Client *Client
	Key    string
}

func NewAddressValidator(c *Client, validationKey string) *AddressValidator {
	return &AddressValidator{Client: c, Key: validationKey}
}

type validateResponse struct {
	IsValid bool `json:"is_valid"`
	Parts   struct {
		DisplayName *string `json:"display_name"`
		LocalPart   *string `json:"local_part"`
		Domain      *string `json:"domain"`
	} `json:"parts"`
}

func (v *AddressValidator) Parse(ctx context.Context, raw string) ([]emailaddr.Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	endpoint := v.Client.BaseURL + "/v3/address/validate?" + url.Values{"address": {raw}}.Encode()
	body, err := v.Client.get(ctx, endpoint, v.Key)
	if err != nil {
		return nil, fmt.Errorf("address validation: %w", err)
	}
	var resp validateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("address validation: decode: %w", err)
	}
	addr := emailaddr.Address{
		DisplayName: deref(resp.Parts.DisplayName),
		LocalPart:   deref(resp.Parts.LocalPart),
		Domain:      strings.ToLower(deref(resp.Parts.Domain)),
		Guessed:     !resp.IsValid,
	}
	return []emailaddr.Address{addr}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
