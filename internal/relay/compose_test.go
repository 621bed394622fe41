package relay

import (
	"errors"
	"strings"
	"testing"

	"mailrelay/internal/mailgun"
)

func TestComposeKeepsShortBodyVerbatim(t *testing.T) {
	for _, n := range []int{0, 10, 3500} {
		body := strings.Repeat("x", n)
		msg := &mailgun.Message{From: "a@example.com", To: "topic-1@relay.example.com", Subject: "s", Body: body}
		comp := Compose(LabelsFor("ja"), msg, "m1", 3500, "https://relay.example.com/view_message")
		if comp.Truncated {
			t.Fatalf("body of %d chars must not be truncated", n)
		}
		if !strings.Contains(comp.Text, "```\n"+body+"\n```\n") {
			t.Fatalf("expected verbatim fenced body for %d chars", n)
		}
		if strings.Contains(comp.Text, "message_id=") {
			t.Fatalf("unexpected truncation link for %d chars", n)
		}
	}
}

func TestComposeTruncatesLongBody(t *testing.T) {
	body := strings.Repeat("あ", 3500) + "い" + strings.Repeat("う", 10)
	msg := &mailgun.Message{From: "a@example.com", To: "topic-1@relay.example.com", Subject: "s", Body: body}
	comp := Compose(LabelsFor("ja"), msg, "abc.123", 3500, "https://relay.example.com/view_message")

	if !comp.Truncated {
		t.Fatalf("expected truncation")
	}
	if !strings.Contains(comp.Text, "```\n"+strings.Repeat("あ", 3500)+"\n") {
		t.Fatalf("expected first 3500 chars in fence")
	}
	if strings.Contains(comp.Text, "い") || strings.Contains(comp.Text, "う") {
		t.Fatalf("text past 3500 chars leaked into the post")
	}
	if !strings.Contains(comp.Text, "https://relay.example.com/view_message?message_id=abc.123") {
		t.Fatalf("expected view link with message id:\n%s", comp.Text[len(comp.Text)-200:])
	}
	if strings.Count(comp.Text, "message_id=") != 1 {
		t.Fatalf("expected exactly one truncation link")
	}
}

func TestComposeHeaderLabels(t *testing.T) {
	msg := &mailgun.Message{From: "a@example.com", To: "topic-1@relay.example.com", Subject: "100% done", Body: "b"}
	comp := Compose(LabelsFor("en"), msg, "m", 3500, "")
	want := "Received an email. --- To: topic-1@relay.example.com\n\nFrom: a@example.com\nSubject: \"100% done\"\n```\nb\n```\n"
	if comp.Text != want {
		t.Fatalf("unexpected text:\n%q\nwant\n%q", comp.Text, want)
	}
	if LabelsFor("fr") != LabelsFor("ja") {
		t.Fatalf("unknown locale should fall back to ja")
	}
}

func TestDiagnosticText(t *testing.T) {
	text := DiagnosticText(LabelsFor("en"), "d-1", "m@x", "https://mg/messages/1", errors.New("typetalk api error: status=500"))
	for _, want := range []string{"Failed to relay", "d-1", "m@x", "https://mg/messages/1", "status=500"} {
		if !strings.Contains(text, want) {
			t.Fatalf("diagnostic missing %q:\n%s", want, text)
		}
	}
}
