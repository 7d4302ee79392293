package domain

import "strings"

// Tile is the ordered list of item tokens seen on one map cell.
type Tile []string

// Count returns how many tokens on the tile equal item.
func (t Tile) Count(item string) int {
	n := 0
	for _, tok := range t {
		if tok == item {
			n++
		}
	}
	return n
}

// Vision is the result of one Look. Index 0 is the agent's own tile.
type Vision []Tile

// ParseVision parses a Look reply such as "[player food,, linemate]".
func ParseVision(s string) (Vision, error) {
	body := strings.TrimSpace(s)
	if !strings.HasPrefix(body, "[") || !strings.HasSuffix(body, "]") {
		return nil, NewDomainError("ParseVision", ErrProtocol, "look reply is not bracketed")
	}
	body = strings.TrimSuffix(strings.TrimPrefix(body, "["), "]")
	cells := strings.Split(body, ",")
	v := make(Vision, len(cells))
	for i, c := range cells {
		v[i] = Tile(strings.Fields(c))
	}
	return v, nil
}

// Here returns tile 0, or nil when the vision is empty.
func (v Vision) Here() Tile {
	if len(v) == 0 {
		return nil
	}
	return v[0]
}

// Find returns the index of the nearest tile holding item, or -1.
func (v Vision) Find(item string) int {
	for i, t := range v {
		if t.Count(item) > 0 {
			return i
		}
	}
	return -1
}

// TileOffset converts a vision index to (distance ahead, lateral offset).
// Row d holds 2d+1 tiles centred on index d*d+d; negative offsets are left.
func TileOffset(index int) (ahead, lateral int) {
	if index <= 0 {
		return 0, 0
	}
	d := 0
	for (d+1)*(d+1) <= index {
		d++
	}
	return d, index - (d*d + d)
}
