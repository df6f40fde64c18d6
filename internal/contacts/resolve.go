package contacts

import "carelink/internal/notify"

// Strategy extracts a contact id from a notification. It reports false when the
// notification carries nothing it recognizes.
type Strategy interface {
	Name() string
	Resolve(n notify.Notification, roster Lookup) (string, bool)
}

// Lookup answers name-to-id questions against the seeded roster.
type Lookup interface {
	IDByName(name string) (string, bool)
}

// ByRoleID matches explicit identifier fields, in order.
type ByRoleID struct {
	Fields []string
}

func (ByRoleID) Name() string { return "role_id" }

func (s ByRoleID) Resolve(n notify.Notification, _ Lookup) (string, bool) {
	if n.OriginContact != "" {
		return n.OriginContact, true
	}
	for _, f := range s.Fields {
		if v := n.Attrs[f]; v != "" {
			return v, true
		}
	}
	return "", false
}

// ByFlatName matches display-name fields. A name found in the roster resolves to
// that contact's id; otherwise the name itself is used as the id.
type ByFlatName struct {
	Fields []string
}

func (ByFlatName) Name() string { return "flat_name" }

func (s ByFlatName) Resolve(n notify.Notification, roster Lookup) (string, bool) {
	for _, f := range s.Fields {
		v := n.Attrs[f]
		if v == "" {
			continue
		}
		if roster != nil {
			if id, ok := roster.IDByName(v); ok {
				return id, true
			}
		}
		return v, true
	}
	return "", false
}

// DefaultStrategies prefers explicit identifiers over flat names.
func DefaultStrategies() []Strategy {
	return []Strategy{
		ByRoleID{Fields: []string{"aiRoleId", "roleId", "contactId", "originContact"}},
		ByFlatName{Fields: []string{"aiName", "name"}},
	}
}
