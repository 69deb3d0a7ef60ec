package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// MasterKind distinguishes the master-data tables entries refer to.
type MasterKind string

const (
	KindClient   MasterKind = "client"
	KindProvider MasterKind = "provider"
	KindPayer    MasterKind = "payer"
)

// MasterKinds lists all kinds in field order.
var MasterKinds = []MasterKind{KindClient, KindProvider, KindPayer}

// ParseMasterKind validates a kind name.
func ParseMasterKind(s string) (MasterKind, error) {
	for _, k := range MasterKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", eris.Errorf("model: unknown master kind %q", s)
}

// MasterRecord is a client, provider or payer.
type MasterRecord struct {
	ID          string            `json:"id"`
	Kind        MasterKind        `json:"kind"`
	DisplayCode string            `json:"display_code"`
	CodeKey     string            `json:"code_key"` // normalized DisplayCode, unique per kind
	Name        string            `json:"name"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
}
