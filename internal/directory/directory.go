// Package directory implements the public profile and capability index
// (§4.E): an agent's self-service profile fields, and the one
// unauthenticated listing surface in the whole system.
package directory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/moltgrid/agentforge/internal/apierr"
	"github.com/moltgrid/agentforge/internal/store"
)

// Profile is an agent's directory-relevant row.
type Profile struct {
	AgentID      string
	Name         string
	Description  string
	Capabilities []string
	Public       bool
	CreatedAt    time.Time
}

// Directory provides profile update/read and the public listing.
type Directory struct {
	store *store.Store
}

// New wraps the shared Store.
func New(s *store.Store) *Directory {
	return &Directory{store: s}
}

// Update writes the caller's profile fields. Any of the three pointers
// may be nil to leave the corresponding field unchanged.
func (d *Directory) Update(ctx context.Context, agentID string, description *string, capabilities *[]string, public *bool) error {
	if description != nil {
		if _, err := d.store.DB.ExecContext(ctx,
			`UPDATE agents SET description = ? WHERE agent_id = ?`, *description, agentID,
		); err != nil {
			return apierr.Wrap(err, "update description")
		}
	}
	if capabilities != nil {
		encoded, err := json.Marshal(*capabilities)
		if err != nil {
			return apierr.Wrap(err, "encode capabilities")
		}
		if _, err := d.store.DB.ExecContext(ctx,
			`UPDATE agents SET capabilities = ? WHERE agent_id = ?`, string(encoded), agentID,
		); err != nil {
			return apierr.Wrap(err, "update capabilities")
		}
	}
	if public != nil {
		if _, err := d.store.DB.ExecContext(ctx,
			`UPDATE agents SET public = ? WHERE agent_id = ?`, boolToInt(*public), agentID,
		); err != nil {
			return apierr.Wrap(err, "update public flag")
		}
	}
	return nil
}

// GetMe returns the caller's own profile, including timestamps.
func (d *Directory) GetMe(ctx context.Context, agentID string) (*Profile, error) {
	row := d.store.DB.QueryRowContext(ctx,
		`SELECT agent_id, name, description, capabilities, public, created_at
		 FROM agents WHERE agent_id = ?`, agentID,
	)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.NewNotFound("agent %q not found", agentID)
	}
	if err != nil {
		return nil, apierr.Wrap(err, "get profile")
	}
	return p, nil
}

// List returns public agents, optionally filtered to those whose
// capabilities include capability (case-sensitive exact match). It is
// the one unauthenticated listing operation in the system.
func (d *Directory) List(ctx context.Context, capability string) ([]*Profile, error) {
	rows, err := d.store.DB.QueryContext(ctx,
		`SELECT agent_id, name, description, capabilities, public, created_at
		 FROM agents WHERE public = 1 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, apierr.Wrap(err, "list directory")
	}
	defer rows.Close()

	var profiles []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, apierr.Wrap(err, "scan profile")
		}
		if capability != "" && !contains(p.Capabilities, capability) {
			continue
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

func contains(capabilities []string, target string) bool {
	for _, c := range capabilities {
		if c == target {
			return true
		}
	}
	return false
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*Profile, error) {
	var p Profile
	var capabilities string
	var createdAt string
	var public int

	if err := row.Scan(&p.AgentID, &p.Name, &p.Description, &capabilities, &public, &createdAt); err != nil {
		return nil, err
	}

	p.Public = public != 0
	p.CreatedAt, _ = store.ParseTime(createdAt)
	if capabilities != "" {
		_ = json.Unmarshal([]byte(capabilities), &p.Capabilities)
	}
	return &p, nil
}
