package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Resource identifies one collectible item kind.
type Resource int

const (
	Food Resource = iota
	Linemate
	Deraumere
	Sibur
	Mendiane
	Phiras
	Thystame
)

// ResourceCount is the number of resource kinds, food included.
const ResourceCount = 7

var resourceNames = [ResourceCount]string{
	"food", "linemate", "deraumere", "sibur", "mendiane", "phiras", "thystame",
}

// Stones lists the elevation resources in protocol order.
var Stones = []Resource{Linemate, Deraumere, Sibur, Mendiane, Phiras, Thystame}

func (r Resource) String() string {
	if r < 0 || int(r) >= ResourceCount {
		return "unknown"
	}
	return resourceNames[r]
}

// ParseResource is the single string→enum translation at the protocol boundary.
func ParseResource(name string) (Resource, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range resourceNames {
		if n == name {
			return Resource(i), true
		}
	}
	return 0, false
}

// Inventory counts items per resource kind.
type Inventory [ResourceCount]int

// Get returns the count for r.
func (inv *Inventory) Get(r Resource) int { return inv[r] }

// Set overwrites the count for r; negative values clamp to zero.
func (inv *Inventory) Set(r Resource, n int) {
	if n < 0 {
		n = 0
	}
	inv[r] = n
}

// Add increments r by n.
func (inv *Inventory) Add(r Resource, n int) { inv.Set(r, inv[r]+n) }

// Remove decrements r by n, reporting false (and changing nothing) when
// fewer than n are held.
func (inv *Inventory) Remove(r Resource, n int) bool {
	if inv[r] < n {
		return false
	}
	inv[r] -= n
	return true
}

// String renders the inventory as "food 3, linemate 0, ..." which is also the
// payload format of team inventory broadcasts.
func (inv Inventory) String() string {
	parts := make([]string, ResourceCount)
	for i, n := range inv {
		parts[i] = resourceNames[i] + " " + strconv.Itoa(n)
	}
	return strings.Join(parts, ", ")
}

// ParseInventory parses an Inventory reply such as "[food 10, linemate 0]".
// Unknown item names are ignored; missing ones stay zero.
func ParseInventory(s string) (Inventory, error) {
	var inv Inventory
	body := strings.TrimSpace(s)
	body = strings.TrimPrefix(body, "[")
	body = strings.TrimSuffix(body, "]")
	if strings.TrimSpace(body) == "" {
		return inv, nil
	}
	for _, item := range strings.Split(body, ",") {
		fields := strings.Fields(item)
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return Inventory{}, NewDomainError("ParseInventory", ErrProtocol, fmt.Sprintf("malformed item %q", item))
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 0 {
			return Inventory{}, NewDomainError("ParseInventory", ErrProtocol, fmt.Sprintf("bad count in %q", item))
		}
		if r, ok := ParseResource(fields[0]); ok {
			inv[r] = n
		}
	}
	return inv, nil
}

// TeamInventory holds one inventory record per known agent. The team total is
// computed from the member records on every call.
type TeamInventory struct {
	members map[int]Inventory
}

// NewTeamInventory creates an empty team inventory.
func NewTeamInventory() *TeamInventory {
	return &TeamInventory{members: make(map[int]Inventory)}
}

// Set replaces the record for agent id.
func (t *TeamInventory) Set(id int, inv Inventory) { t.members[id] = inv }

// Forget drops the record for agent id.
func (t *TeamInventory) Forget(id int) { delete(t.members, id) }

// Len returns the number of known records.
func (t *TeamInventory) Len() int { return len(t.members) }

// Member returns the record for id.
func (t *TeamInventory) Member(id int) (Inventory, bool) {
	inv, ok := t.members[id]
	return inv, ok
}

// Total sums all member records per resource kind.
func (t *TeamInventory) Total() Inventory {
	var total Inventory
	for _, inv := range t.members {
		for i, n := range inv {
			total[i] += n
		}
	}
	return total
}
