package tgui

import "strings"

// Data formats inline callback data as "ns:action:payload".
// The payload is carried as-is; keep it short, Telegram caps callback
// data at 64 bytes.
func Data(ns, action, payload string) string {
	ns = strings.TrimSpace(ns)
	action = strings.TrimSpace(action)
	if payload == "" {
		return ns + ":" + action
	}
	return ns + ":" + action + ":" + payload
}

// Parse splits "ns:action:payload" callback data. The payload may
// itself contain colons; only the first two separators are structural.
func Parse(data string) (ns, action, payload string, ok bool) {
	parts := strings.SplitN(data, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", false
	}
	ns, action = parts[0], parts[1]
	if len(parts) == 3 {
		payload = parts[2]
	}
	return ns, action, payload, true
}
