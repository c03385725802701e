package domain

import (
	"errors"
	"testing"
)

func TestParseStatusFromString(t *testing.T) {
	t.Parallel()

	cases := []struct {
		input   string
		want    Status
		wantErr bool
	}{
		{"PENDING", StatusPending, false},
		{"sent", StatusSent, false},
		{"  failed  ", StatusFailed, false},
		{"dlq", StatusDLQ, false},
		{"canceled", "", true},
		{"", "", true},
	}

	for _, tc := range cases {
		got, err := ParseStatusFromString(tc.input)
		if tc.wantErr {
			if !errors.Is(err, ErrValidation) {
				t.Errorf("ParseStatusFromString(%q) error = %v, want ErrValidation", tc.input, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseStatusFromString(%q) error = %v", tc.input, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseStatusFromString(%q) = %s, want %s", tc.input, got, tc.want)
		}
	}
}

func TestParseChannelFromString(t *testing.T) {
	t.Parallel()

	cases := []struct {
		input   string
		want    Channel
		wantErr bool
	}{
		{"push", ChannelPush, false},
		{"EMAIL", ChannelEmail, false},
		{"in_app", ChannelInApp, false},
		{"sms", "", true},
		{"", "", true},
	}

	for _, tc := range cases {
		got, err := ParseChannelFromString(tc.input)
		if tc.wantErr {
			if !errors.Is(err, ErrValidation) {
				t.Errorf("ParseChannelFromString(%q) error = %v, want ErrValidation", tc.input, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseChannelFromString(%q) error = %v", tc.input, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseChannelFromString(%q) = %s, want %s", tc.input, got, tc.want)
		}
	}
}

func TestPriorityRankOrdering(t *testing.T) {
	t.Parallel()

	ordered := []Priority{PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}
	for i := 1; i < len(ordered); i++ {
		if ordered[i-1].Rank() >= ordered[i].Rank() {
			t.Fatalf("Rank(%s) = %d should be below Rank(%s) = %d",
				ordered[i-1], ordered[i-1].Rank(), ordered[i], ordered[i].Rank())
		}
	}

	if Priority("BOGUS").Rank() <= PriorityLow.Rank() {
		t.Fatal("unknown priority should rank below LOW")
	}
}

func TestNotificationValidate(t *testing.T) {
	t.Parallel()

	valid := Notification{
		UserID:   "u1",
		Channel:  ChannelPush,
		Priority: PriorityNormal,
		Title:    "hello",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	cases := []struct {
		name   string
		mutate func(n *Notification)
	}{
		{"missing user", func(n *Notification) { n.UserID = "" }},
		{"missing title and body", func(n *Notification) { n.Title, n.Body = "", "" }},
		{"invalid channel", func(n *Notification) { n.Channel = "SMS" }},
		{"invalid priority", func(n *Notification) { n.Priority = "SOMEDAY" }},
		{"negative retry count", func(n *Notification) { n.RetryCount = -1 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			n := valid
			tc.mutate(&n)
			if err := n.Validate(); !errors.Is(err, ErrValidation) {
				t.Fatalf("Validate() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestNotificationBodyOnlyIsValid(t *testing.T) {
	t.Parallel()

	n := Notification{
		UserID:   "u1",
		Channel:  ChannelInApp,
		Priority: PriorityLow,
		Body:     "content without title",
	}
	if err := n.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}
