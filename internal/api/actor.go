package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/agendaclin/clinic-scheduling/internal/scheduling"
)

// actorFromRequest reads the caller identity asserted by the upstream auth
// layer. Authentication itself happens before this service; the headers are
// trusted as-is.
func actorFromRequest(r *http.Request) scheduling.Actor {
	actor := scheduling.Actor{Role: scheduling.RolePatient}

	if id, err := uuid.Parse(r.Header.Get("X-Actor-ID")); err == nil {
		actor.ID = id
	}

	switch scheduling.Role(r.Header.Get("X-Actor-Role")) {
	case scheduling.RoleAdmin:
		actor.Role = scheduling.RoleAdmin
	case scheduling.RoleProfessional:
		actor.Role = scheduling.RoleProfessional
	}

	return actor
}
