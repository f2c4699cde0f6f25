package models

import "testing"

func TestSucceeded(t *testing.T) {
	cases := map[ResultStatus]bool{
		ResultCompleted: true,
		ResultFailed:    false,
		ResultTimeout:   false,
		ResultRejected:  false,
		ResultSkipped:   false,
	}
	for status, want := range cases {
		r := &TaskResult{TaskID: "t", Status: status}
		if r.Succeeded() != want {
			t.Errorf("%s: Succeeded() = %v, want %v", status, r.Succeeded(), want)
		}
	}
}

func TestSetMetaInitializesMap(t *testing.T) {
	r := &TaskResult{TaskID: "t"}
	r.SetMeta(ResultMetaCacheHit, "true")
	if r.Metadata[ResultMetaCacheHit] != "true" {
		t.Errorf("got %v", r.Metadata)
	}
}
