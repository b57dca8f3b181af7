package sender

import "fmt"

// translateLogicalKey turns a logical key name into the byte sequence a
// terminal expects. Control letters use the canonical "c & 0x1f" mask so
// C-A, C-[, C-@ all produce the correct control byte.
func translateLogicalKey(logical string) ([]byte, error) {
	switch logical {
	case "Enter":
		return []byte{'\r'}, nil
	case "Escape":
		return []byte{0x1b}, nil
	case "Tab":
		return []byte{'\t'}, nil
	case "BSpace":
		return []byte{0x7f}, nil
	case "Up":
		return []byte{0x1b, '[', 'A'}, nil
	case "Down":
		return []byte{0x1b, '[', 'B'}, nil
	case "Right":
		return []byte{0x1b, '[', 'C'}, nil
	case "Left":
		return []byte{0x1b, '[', 'D'}, nil
	}
	if len(logical) == 3 && logical[0] == 'C' && logical[1] == '-' {
		return []byte{logical[2] & 0x1f}, nil
	}
	return nil, fmt.Errorf("sender: unknown logical key %q", logical)
}
