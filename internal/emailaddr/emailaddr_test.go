package emailaddr

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestResolveChannelID(t *testing.T) {
	r := NewResolver(LocalParser{}, "topic-")
	cases := []struct {
		name       string
		recipients string
		want       int64
		wantErr    bool
	}{
		{name: "bare", recipients: "topic-97119@relay.example.com", want: 97119},
		{name: "first of list", recipients: "topic-12@relay.example.com, topic-34@relay.example.com", want: 12},
		{name: "display name", recipients: "Support <topic-7@relay.example.com>", want: 7},
		{name: "whitespace separated", recipients: "topic-12@relay.example.com topic-34@relay.example.com", want: 12},
		{name: "tab and newline separated", recipients: "\ttopic-21@relay.example.com\n topic-34@relay.example.com", want: 21},
		{name: "display name then list", recipients: "Support <topic-7@relay.example.com>, topic-34@relay.example.com", want: 7},
		{name: "leading empty entry", recipients: ", topic-9@relay.example.com", want: 9},
		{name: "uppercase local part", recipients: "Topic-8@relay.example.com", want: 8},
		{name: "spaces around", recipients: "  topic-55@relay.example.com  ", want: 55},
		{name: "empty", recipients: "", wantErr: true},
		{name: "only commas", recipients: " , ,", wantErr: true},
		{name: "missing prefix", recipients: "97119@relay.example.com", wantErr: true},
		{name: "other prefix", recipients: "typetalk-97119@relay.example.com", wantErr: true},
		{name: "no digits", recipients: "topic-@relay.example.com", wantErr: true},
		{name: "trailing junk", recipients: "topic-12a@relay.example.com", wantErr: true},
		{name: "signed", recipients: "topic--12@relay.example.com", wantErr: true},
		{name: "overflow", recipients: "topic-99999999999999999999@relay.example.com", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.ResolveChannelID(context.Background(), tc.recipients)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidDestination) {
					t.Fatalf("expected ErrInvalidDestination, got id=%d err=%v", got, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

type stubParser struct {
	addrs []Address
	err   error
}

func (s stubParser) Parse(context.Context, string) ([]Address, error) {
	return s.addrs, s.err
}

func TestResolveChannelIDUsesParser(t *testing.T) {
	r := NewResolver(stubParser{addrs: []Address{{LocalPart: "topic-3", Domain: "x.example", Guessed: true}}}, "topic-")
	id, err := r.ResolveChannelID(context.Background(), "whatever@x.example")
	if err != nil || id != 3 {
		t.Fatalf("expected 3, got %d (%v)", id, err)
	}

	r = NewResolver(stubParser{addrs: []Address{{Domain: "x.example"}}}, "topic-")
	if _, err := r.ResolveChannelID(context.Background(), "@x.example"); !errors.Is(err, ErrInvalidDestination) {
		t.Fatalf("expected invalid destination for missing local part, got %v", err)
	}

	r = NewResolver(stubParser{err: errors.New("validation api down")}, "topic-")
	if _, err := r.ResolveChannelID(context.Background(), "topic-1@x.example"); !errors.Is(err, ErrInvalidDestination) {
		t.Fatalf("expected invalid destination on parser failure, got %v", err)
	}
}

func TestLocalParserBestGuess(t *testing.T) {
	addrs, err := LocalParser{}.Parse(context.Background(), "broken <<user@Example.COM>, other@example.com")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(addrs) != 2 {
		t.Fatalf("expected 2 addresses, got %d", len(addrs))
	}
	if !addrs[0].Guessed || addrs[0].Normalized() != "user@example.com" {
		t.Fatalf("unexpected first guess: %+v", addrs[0])
	}
}

func TestAddressInDomain(t *testing.T) {
	a := Address{LocalPart: "ops", Domain: "mx.example.com"}
	if !a.InDomain("MX.example.com.") {
		t.Fatalf("expected case-insensitive domain match")
	}
	if a.InDomain("") || a.InDomain("example.com") {
		t.Fatalf("unexpected domain match")
	}
}

func TestThreadToken(t *testing.T) {
	cases := map[string]string{
		"<abc.123@mx.example.com>": "abc.123",
		"abc.123@mx.example.com":   "abc.123",
		" <no-at-sign> ":           "no-at-sign",
		"":                         "",
	}
	for in, want := range cases {
		if got := ThreadToken(in, 63); got != want {
			t.Fatalf("ThreadToken(%q) = %q, want %q", in, got, want)
		}
	}

	long := "<" + strings.Repeat("x", 100) + "@mx.example.com>"
	if got := ThreadToken(long, 63); len(got) != 63 {
		t.Fatalf("expected 63 chars, got %d", len(got))
	}
}

func TestSplitReferences(t *testing.T) {
	got := SplitReferences(" <a@x>\n\t<b@x>  <c@x> ")
	if len(got) != 3 || got[1] != "<b@x>" {
		t.Fatalf("unexpected references: %v", got)
	}
}
