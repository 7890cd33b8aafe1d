package server

import (
	"context"

	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/relaychat/pkg/datastore"
	"github.com/NicolasHaas/relaychat/pkg/model"
)

// PresenceExport is the YAML document written by -export-presence.
type PresenceExport struct {
	Presence []model.Presence `yaml:"presence"`
}

// ExportPresenceYAML renders the presence log entries matching filters.
func ExportPresenceYAML(ctx context.Context, st datastore.PresenceReadProvider, filters model.PresenceFilters) ([]byte, error) {
	rows, err := st.ListPresence(ctx, filters)
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(&PresenceExport{Presence: rows})
}
