package jsoncodec

import (
	"testing"
)

type testPayload struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func TestMarshalAndUnmarshal(t *testing.T) {
	in := testPayload{ID: 42, Name: "tcpflow"}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var out testPayload
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if out != in {
		t.Fatalf("expected round trip to match, got %#v", out)
	}
}

func TestMarshalString(t *testing.T) {
	got, err := MarshalString(testPayload{ID: 1, Name: "a"})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if want := `{"id":1,"name":"a"}`; got != want {
		t.Fatalf("MarshalString = %s, want %s", got, want)
	}
}
