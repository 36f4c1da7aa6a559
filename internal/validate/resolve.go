package validate

import (
	"context"
	"errors"
	"net/http"

	"github.com/dslhub/dslhub/internal/apperr"
	"github.com/dslhub/dslhub/internal/model"
	"github.com/dslhub/dslhub/internal/store"
)

// ResolveActive returns the schema definition the named channel points at.
// A missing channel or a dangling definition pointer is a service
// misconfiguration surfaced as 503 so clients can tell it apart from a bad
// request.
func ResolveActive(ctx context.Context, schemas store.Schemas, channel string) (model.SchemaDefinition, error) {
	ch, err := schemas.GetChannel(ctx, channel)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.SchemaDefinition{}, apperr.Newf(http.StatusServiceUnavailable,
				apperr.CodeSchemaChannelMissing, "schema channel %q is not configured", channel)
		}
		return model.SchemaDefinition{}, err
	}
	def, err := schemas.GetDefinition(ctx, ch.ActiveSchemaDefID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.SchemaDefinition{}, apperr.Newf(http.StatusServiceUnavailable,
				apperr.CodeSchemaDefinitionMissing, "schema definition %q for channel %q is missing",
				ch.ActiveSchemaDefID, channel)
		}
		return model.SchemaDefinition{}, err
	}
	return def, nil
}
