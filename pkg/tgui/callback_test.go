package tgui

import "testing"

func TestDataParseRoundTrip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		ns      string
		action  string
		payload string
		want    string
	}{
		{name: "no payload", ns: "flow", action: "confirm", want: "flow:confirm"},
		{name: "payload", ns: "mod", action: "approve", payload: "42_1001", want: "mod:approve:42_1001"},
		{name: "payload with colon", ns: "mod", action: "delete", payload: "a:b", want: "mod:delete:a:b"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			data := Data(tt.ns, tt.action, tt.payload)
			if data != tt.want {
				t.Fatalf("Data = %q, want %q", data, tt.want)
			}
			ns, action, payload, ok := Parse(data)
			if !ok {
				t.Fatalf("Parse(%q) not ok", data)
			}
			if ns != tt.ns || action != tt.action || payload != tt.payload {
				t.Fatalf("Parse = (%q,%q,%q)", ns, action, payload)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	t.Parallel()
	for _, data := range []string{"", "noseparator", ":action", "ns:"} {
		if _, _, _, ok := Parse(data); ok {
			t.Fatalf("Parse(%q) should not be ok", data)
		}
	}
}
