package service

import (
	"testing"
	"time"

	"github.com/GoCodeAlone/forgedocs/ingest"
	"github.com/GoCodeAlone/forgedocs/lookup"
)

func lookupQuery() lookup.Query {
	return lookup.Query{Author: "puppetlabs", Name: "stdlib", Version: "5.0.2"}
}

func mustEvent(t *testing.T, body string) ingest.S3Event {
	t.Helper()
	ev, err := ingest.ParseEvent([]byte(body))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	return ev
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
