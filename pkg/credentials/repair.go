// Package credentials rewrites name-based credential references inside
// workflow nodes to id-based ones.
package credentials

import (
	"context"
	"log/slog"

	"github.com/tidewire/tidewire/pkg/models"
	"github.com/tidewire/tidewire/pkg/persistence"
)

// Finder is the subset of the credential repository the repairer reads.
type Finder interface {
	GetByID(ctx context.Context, id string) (*models.Credential, error)
	FindByNameAndType(ctx context.Context, name, credentialType string) ([]*models.Credential, error)
}

type Repairer struct {
	finder Finder
	logger *slog.Logger
}

func NewRepairer(finder Finder, logger *slog.Logger) *Repairer {
	return &Repairer{
		finder: finder,
		logger: logger.With("module", "credential_repair"),
	}
}

// Repair resolves every reference that lacks an id, or whose id no longer
// exists, by credential name and type. The oldest match wins. References
// that cannot be resolved are left as they are. It returns how many
// references were rewritten.
func (r *Repairer) Repair(ctx context.Context, nodes []*models.WorkflowNode) int {
	repaired := 0

	for _, node := range nodes {
		for credentialType, ref := range node.Credentials {
			if ref.ID != "" && r.exists(ctx, ref.ID) {
				continue
			}

			if ref.Name == "" {
				continue
			}

			found, err := r.finder.FindByNameAndType(ctx, ref.Name, credentialType)
			if err != nil {
				r.logger.WarnContext(ctx, "Failed to look up credential",
					"node", node.Name, "credential_type", credentialType, "name", ref.Name, "error", err)

				continue
			}

			if len(found) == 0 {
				r.logger.DebugContext(ctx, "Credential reference left unresolved",
					"node", node.Name, "credential_type", credentialType, "name", ref.Name)

				continue
			}

			node.Credentials[credentialType] = models.CredentialRef{ID: found[0].ID, Name: found[0].Name}
			repaired++
		}
	}

	return repaired
}

func (r *Repairer) exists(ctx context.Context, id string) bool {
	_, err := r.finder.GetByID(ctx, id)
	if err == nil {
		return true
	}

	if !persistence.IsNotFound(err) {
		r.logger.WarnContext(ctx, "Failed to look up credential by id", "id", id, "error", err)

		// Keep the reference untouched when storage is unavailable.
		return true
	}

	return false
}
