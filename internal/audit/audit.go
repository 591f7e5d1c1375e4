// Package audit appends immutable audit records for front-desk state changes.
package audit

import (
	"context"
	"strings"

	"qms/frontdesk-service/internal/bizdate"
	"qms/frontdesk-service/internal/docstore"
	"qms/frontdesk-service/internal/logging"
	"qms/frontdesk-service/internal/models"
	"qms/frontdesk-service/internal/store"
)

// TimestampLayout matches ISO8601 with millisecond precision in UTC.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Actor identifies who performed an operation. It is passed explicitly into
// every state-changing call.
type Actor struct {
	StaffID   string
	FullName  string
	Role      string
	IPAddress string
}

const (
	RoleSystem = "system"
	RolePublic = "public"
)

func System() Actor {
	return Actor{FullName: "System", Role: RoleSystem}
}

// Public identifies an unauthenticated caller such as the online booking form.
func Public(name, ipAddress string) Actor {
	return Actor{FullName: name, Role: RolePublic, IPAddress: ipAddress}
}

func (a Actor) UserRef() string {
	if strings.TrimSpace(a.StaffID) != "" {
		return "staff/" + a.StaffID
	}
	if a.Role == RolePublic {
		return "public"
	}
	return "system"
}

func (a Actor) IsAdmin() bool {
	return a.Role == models.RoleAdmin
}

type Emitter struct {
	repo  *store.Repository
	clock bizdate.Clock
}

func NewEmitter(repo *store.Repository, clock bizdate.Clock) *Emitter {
	if clock == nil {
		clock = bizdate.SystemClock{}
	}
	return &Emitter{repo: repo, clock: clock}
}

// Record writes one audit record and returns its ID.
func (e *Emitter) Record(ctx context.Context, actor Actor, action string) (string, error) {
	id := e.repo.NewID()
	record := models.AuditRecord{
		ID:            id,
		UserRef:       actor.UserRef(),
		StaffFullName: actor.FullName,
		Action:        action,
		IPAddress:     actor.IPAddress,
		Timestamp:     e.clock.Now().UTC().Format(TimestampLayout),
	}
	if err := e.repo.Apply(ctx, docstore.Write{Path: store.AuditPath(id), Value: record}); err != nil {
		return "", err
	}
	return id, nil
}

// Emit records the action and logs instead of failing: the state change it
// describes has already been committed.
func (e *Emitter) Emit(ctx context.Context, actor Actor, action string) {
	if e == nil {
		return
	}
	if _, err := e.Record(ctx, actor, action); err != nil {
		logging.FromContext(ctx).Warn().Err(err).
			Str("user_ref", actor.UserRef()).
			Str("action", action).
			Msg("audit record failed")
	}
}
