package mbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dhcgn/mailclient/mailbox"
	"github.com/dhcgn/mailclient/model"
)

const sample = `From alice@example.com Mon Jan  1 09:00:00 2024
From: alice@example.com
Subject: first

one
From bob@example.com Tue Jan  2 09:00:00 2024
From: bob@example.com
Subject: second

two
From carol@example.com Wed Jan  3 09:00:00 2024
From: carol@example.com
Subject: third

three
`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inbox.mbox")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	return path
}

func subjects(t *testing.T, src *Source, refs []model.MessageRef) []string {
	t.Helper()
	var out []string
	for _, ref := range refs {
		raw, err := src.Fetch(context.Background(), ref)
		if err != nil {
			t.Fatalf("Fetch(%v) error = %v", ref, err)
		}
		for _, line := range strings.Split(string(raw), "\n") {
			if s, ok := strings.CutPrefix(strings.TrimSpace(line), "Subject: "); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

func TestSource_Enumerate(t *testing.T) {
	src, err := Open(writeSample(t), nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer src.Close()

	tests := []struct {
		name string
		q    mailbox.Query
		want string
	}{
		{"oldest", mailbox.Query{Sort: model.SortOldest, Limit: -1}, "first,second,third"},
		{"newest reverses", mailbox.Query{Sort: model.SortNewest, Limit: -1}, "third,second,first"},
		{"limit", mailbox.Query{Sort: model.SortNewest, Limit: 2}, "third,second"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			refs, err := src.Enumerate(context.Background(), tt.q)
			if err != nil {
				t.Fatalf("Enumerate() error = %v", err)
			}
			if got := strings.Join(subjects(t, src, refs), ","); got != tt.want {
				t.Errorf("subjects = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSource_Refs(t *testing.T) {
	src, err := Open(writeSample(t), nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	refs, err := src.Enumerate(context.Background(), mailbox.Query{Limit: -1})
	if err != nil {
		t.Fatalf("Enumerate() error = %v", err)
	}
	if len(refs) != 3 || refs[0].ID != "mbox-1" || refs[2].Index != 3 {
		t.Errorf("refs = %+v", refs)
	}

	if _, err := src.Fetch(context.Background(), model.MessageRef{ID: "mbox-9", Index: 9}); err == nil {
		t.Error("Fetch() expected error for out of range ref")
	}
}

func TestOpen_Errors(t *testing.T) {
	if _, err := Open("  ", nil); err == nil {
		t.Error("Open() expected error for empty path")
	}
	if _, err := Open(filepath.Join(t.TempDir(), "missing.mbox"), nil); err == nil {
		t.Error("Open() expected error for missing file")
	}
}

func TestExport_RoundTrip(t *testing.T) {
	records := []model.MessageRecord{
		{ID: "1", From: "Alice <alice@example.com>", Date: "Mon, 01 Jan 2024 09:00:00 +0000", Raw: []byte("From: alice@example.com\r\nSubject: exported one\r\n\r\nbody one\r\n")},
		{ID: "2", From: "", Date: "garbage", Raw: []byte("Subject: exported two\r\n\r\nbody\r\n")},
	}

	path := filepath.Join(t.TempDir(), "out.mbox")
	if err := Export(path, records); err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	var raws []string
	err := Read(context.Background(), path, func(raw []byte) error {
		raws = append(raws, string(raw))
		return nil
	})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(raws) != 2 {
		t.Fatalf("Read() found %d messages, want 2", len(raws))
	}
	if !strings.Contains(raws[0], "Subject: exported one") {
		t.Errorf("first message = %q", raws[0])
	}
	if !strings.Contains(raws[1], "Subject: exported two") {
		t.Errorf("second message = %q", raws[1])
	}
}

func TestEnvelopeSender(t *testing.T) {
	tests := []struct {
		from string
		want string
	}{
		{"Alice <alice@example.com>", "alice@example.com"},
		{"", "MAILER-DAEMON"},
		{"not an address at all", "MAILER-DAEMON"},
	}
	for _, tt := range tests {
		if got := envelopeSender(model.MessageRecord{From: tt.from}); got != tt.want {
			t.Errorf("envelopeSender(%q) = %q, want %q", tt.from, got, tt.want)
		}
	}
}
