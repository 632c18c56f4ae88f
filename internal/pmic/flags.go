package pmic

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type flagName struct {
	bit  uint16
	name string
}

func formatFlags(v uint16, names []flagName) string {
	if v == 0 {
		return "0"
	}
	var parts []string
	for _, n := range names {
		if v&n.bit != 0 {
			parts = append(parts, n.name)
			v &^= n.bit
		}
	}
	if v != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", v))
	}
	return strings.Join(parts, "|")
}

func marshalFlags(v uint16, names []flagName) ([]byte, error) {
	out := []string{}
	for _, n := range names {
		if v&n.bit != 0 {
			out = append(out, n.name)
			v &^= n.bit
		}
	}
	if v != 0 {
		return nil, fmt.Errorf("unnamed flag bits 0x%x", v)
	}
	return json.Marshal(out)
}

func unmarshalFlags(b []byte, names []flagName) (uint16, error) {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] != '[' {
		var raw uint16
		if err := json.Unmarshal(b, &raw); err != nil {
			return 0, fmt.Errorf("flags: %w", err)
		}
		return raw, nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return 0, fmt.Errorf("flags: %w", err)
	}
	var v uint16
next:
	for _, s := range list {
		for _, n := range names {
			if strings.EqualFold(s, n.name) {
				v |= n.bit
				continue next
			}
		}
		return 0, fmt.Errorf("unknown flag %q", s)
	}
	return v, nil
}
