package main

import (
	"testing"
	"time"

	"github.com/docopt/docopt-go"

	"github.com/mmynk/tripsync/internal/auth"
)

func TestParticipantFromToken(t *testing.T) {
	token, err := auth.NewJWTManager("server-only-secret", time.Hour).Generate("participant-7")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	id, err := participantFromToken(token)
	if err != nil {
		t.Fatalf("participantFromToken failed: %v", err)
	}
	if id != "participant-7" {
		t.Errorf("expected participant-7, got %s", id)
	}

	if _, err := participantFromToken("not.a.token"); err == nil {
		t.Error("expected an error for a malformed token")
	}
}

func TestLatestKeepsNewest(t *testing.T) {
	ch := make(chan int, 1)
	latest(ch, 1)
	latest(ch, 2)
	latest(ch, 3)

	if got := <-ch; got != 3 {
		t.Errorf("expected 3, got %d", got)
	}
	select {
	case v := <-ch:
		t.Errorf("expected empty channel, got %d", v)
	default:
	}
}

func TestQueryText(t *testing.T) {
	tests := []struct {
		name string
		opts docopt.Opts
		want string
	}{
		{"several words", docopt.Opts{"<query>": []string{"street", "art", "Ehrenfeld"}}, "street art Ehrenfeld"},
		{"one word", docopt.Opts{"<query>": []string{"museum"}}, "museum"},
		{"no query", docopt.Opts{"<query>": []string{}}, ""},
		{"missing", docopt.Opts{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := queryText(tt.opts); got != tt.want {
				t.Errorf("queryText() = %q, want %q", got, tt.want)
			}
		})
	}
}
