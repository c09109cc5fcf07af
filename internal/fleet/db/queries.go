package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/vpnfleet/vpnfleet/internal/fleet/server"
)

// Querier defines all query operations on fleet state
type Querier interface {
	// Server lifecycle
	CreateServer(ctx context.Context, params CreateServerParams) (Server, error)
	GetServer(ctx context.Context, id string) (Server, error)
	ListServers(ctx context.Context) ([]Server, error)
	GetServersByStatus(ctx context.Context, status string) ([]Server, error)
	CasServerStatus(ctx context.Context, params CasServerStatusParams) error
	SetServerProvisioned(ctx context.Context, id, providerInstanceID string) error
	SetServerKeys(ctx context.Context, id, publicKey, privateKey string) error
	ActivateServer(ctx context.Context, id, publicIP string) error
	SetServerError(ctx context.Context, id, cause string) error
	UpdateServerActivity(ctx context.Context, id string, at time.Time) error
	DeleteServer(ctx context.Context, id string) error

	// Peer profiles
	CreatePeer(ctx context.Context, params CreatePeerParams) (PeerProfile, error)
	GetPeer(ctx context.Context, id string) (PeerProfile, error)
	GetPeerByName(ctx context.Context, serverID, name string) (PeerProfile, error)
	ListPeersByServer(ctx context.Context, serverID string) ([]PeerProfile, error)
	GetAllocatedAddresses(ctx context.Context, serverID string) ([]string, error)
	CountPeersByServer(ctx context.Context, serverID string) (int64, error)
	DeletePeer(ctx context.Context, id string) error
}

// DBTX is satisfied by both *sql.DB and *sql.Tx so queries can run inside
// or outside a transaction
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries executes SQL against a DBTX
type Queries struct {
	db DBTX
}

// New creates a Queries instance bound to the given connection or transaction
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

const serverColumns = `id, provider, region, plan, provider_instance_id, public_ip, status,
	wg_public_key, wg_private_key, subnet_cidr, listen_port, error_cause, created_at, last_activity_at`

func scanServer(row interface{ Scan(dest ...any) error }) (Server, error) {
	var s Server
	err := row.Scan(
		&s.ID, &s.Provider, &s.Region, &s.Plan, &s.ProviderInstanceID,
		&s.PublicIP, &s.Status, &s.WgPublicKey, &s.WgPrivateKey,
		&s.SubnetCidr, &s.ListenPort, &s.ErrorCause, &s.CreatedAt, &s.LastActivityAt,
	)
	return s, err
}

// CreateServer inserts a new server record. Public IP starts unset; it is
// only written by ActivateServer.
func (q *Queries) CreateServer(ctx context.Context, params CreateServerParams) (Server, error) {
	query := `INSERT INTO servers (id, provider, region, plan, status, subnet_cidr, listen_port, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING ` + serverColumns

	row := q.db.QueryRowContext(ctx, query,
		params.ID, params.Provider, params.Region, params.Plan,
		params.Status, params.SubnetCidr, params.ListenPort, time.Now().UTC(),
	)
	s, err := scanServer(row)
	if err != nil {
		return Server{}, fmt.Errorf("failed to create server: %w", err)
	}
	return s, nil
}

// GetServer retrieves a server by ID
func (q *Queries) GetServer(ctx context.Context, id string) (Server, error) {
	query := `SELECT ` + serverColumns + ` FROM servers WHERE id = ?`

	s, err := scanServer(q.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Server{}, server.ErrServerNotFound
		}
		return Server{}, fmt.Errorf("failed to get server: %w", err)
	}
	return s, nil
}

// ListServers returns all servers ordered by creation time
func (q *Queries) ListServers(ctx context.Context) ([]Server, error) {
	query := `SELECT ` + serverColumns + ` FROM servers ORDER BY created_at, id`

	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	defer rows.Close()

	return collectServers(rows)
}

// GetServersByStatus returns all servers in the given lifecycle status
func (q *Queries) GetServersByStatus(ctx context.Context, status string) ([]Server, error) {
	query := `SELECT ` + serverColumns + ` FROM servers WHERE status = ? ORDER BY created_at, id`

	rows, err := q.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to get servers by status: %w", err)
	}
	defer rows.Close()

	return collectServers(rows)
}

func collectServers(rows *sql.Rows) ([]Server, error) {
	var servers []Server
	for rows.Next() {
		s, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan server row: %w", err)
		}
		servers = append(servers, s)
	}
	return servers, rows.Err()
}

// CasServerStatus transitions a server's status only if it still holds the
// expected value. A stale expectation means another actor moved the server
// first; callers get ErrConcurrentModification and must re-read.
func (q *Queries) CasServerStatus(ctx context.Context, params CasServerStatusParams) error {
	query := `UPDATE servers SET status = ? WHERE id = ? AND status = ?`

	result, err := q.db.ExecContext(ctx, query, params.ToStatus, params.ID, params.FromStatus)
	if err != nil {
		return fmt.Errorf("failed to update server status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check status update: %w", err)
	}
	if affected == 0 {
		if _, err := q.GetServer(ctx, params.ID); err != nil {
			return err
		}
		return server.ErrConcurrentModification
	}
	return nil
}

// SetServerProvisioned records the provider-side instance ID. Written as soon
// as the provider acknowledges creation so a crashed provision can still be
// compensated by destroying the instance.
func (q *Queries) SetServerProvisioned(ctx context.Context, id, providerInstanceID string) error {
	query := `UPDATE servers SET provider_instance_id = ? WHERE id = ?`
	return q.execOne(ctx, query, providerInstanceID, id)
}

// SetServerKeys stores the server's WireGuard keypair
func (q *Queries) SetServerKeys(ctx context.Context, id, publicKey, privateKey string) error {
	query := `UPDATE servers SET wg_public_key = ?, wg_private_key = ? WHERE id = ?`
	return q.execOne(ctx, query, publicKey, privateKey, id)
}

// ActivateServer marks a server active and records its public IP and first
// activity timestamp. This is the only query that sets public_ip.
func (q *Queries) ActivateServer(ctx context.Context, id, publicIP string) error {
	query := `UPDATE servers SET status = ?, public_ip = ?, error_cause = '', last_activity_at = ? WHERE id = ?`
	return q.execOne(ctx, query, string(server.StatusActive), publicIP, time.Now().UTC(), id)
}

// SetServerError moves a server to the error status with a cause and clears
// its public IP
func (q *Queries) SetServerError(ctx context.Context, id, cause string) error {
	query := `UPDATE servers SET status = ?, error_cause = ?, public_ip = NULL WHERE id = ?`
	return q.execOne(ctx, query, string(server.StatusError), cause, id)
}

// UpdateServerActivity records the last observed traffic or handshake time
func (q *Queries) UpdateServerActivity(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE servers SET last_activity_at = ? WHERE id = ?`
	return q.execOne(ctx, query, at.UTC(), id)
}

// DeleteServer removes a server row. Peer profiles cascade with it.
func (q *Queries) DeleteServer(ctx context.Context, id string) error {
	query := `DELETE FROM servers WHERE id = ?`
	return q.execOne(ctx, query, id)
}

func (q *Queries) execOne(ctx context.Context, query string, args ...any) error {
	result, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update server: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return server.ErrServerNotFound
	}
	return nil
}

// CreatePeer inserts a new peer profile. The unique constraints on
// (server_id, assigned_address) and (server_id, name) back the allocation
// and naming invariants.
func (q *Queries) CreatePeer(ctx context.Context, params CreatePeerParams) (PeerProfile, error) {
	query := `INSERT INTO peer_profiles (id, server_id, name, public_key, private_key, assigned_address, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id, server_id, name, public_key, private_key, assigned_address, created_at`

	var p PeerProfile
	err := q.db.QueryRowContext(ctx, query,
		params.ID, params.ServerID, params.Name,
		params.PublicKey, params.PrivateKey, params.AssignedAddress, time.Now().UTC(),
	).Scan(&p.ID, &p.ServerID, &p.Name, &p.PublicKey, &p.PrivateKey, &p.AssignedAddress, &p.CreatedAt)
	if err != nil {
		if conflictErr := mapPeerConstraintError(err); conflictErr != nil {
			return PeerProfile{}, conflictErr
		}
		return PeerProfile{}, fmt.Errorf("failed to create peer: %w", err)
	}
	return p, nil
}

// mapPeerConstraintError translates a fired unique constraint into the
// matching domain error, so a concurrent insert that beat the caller's
// pre-check still surfaces as a conflict.
func mapPeerConstraintError(err error) error {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.Code != sqlite3.ErrConstraint {
		return nil
	}
	switch {
	case strings.Contains(err.Error(), "peer_profiles.name"):
		return server.ErrPeerNameConflict
	case strings.Contains(err.Error(), "peer_profiles.assigned_address"):
		return server.ErrAddressConflict
	default:
		return nil
	}
}

// GetPeer retrieves a peer profile by ID
func (q *Queries) GetPeer(ctx context.Context, id string) (PeerProfile, error) {
	query := `SELECT id, server_id, name, public_key, private_key, assigned_address, created_at
		FROM peer_profiles WHERE id = ?`

	var p PeerProfile
	err := q.db.QueryRowContext(ctx, query, id).
		Scan(&p.ID, &p.ServerID, &p.Name, &p.PublicKey, &p.PrivateKey, &p.AssignedAddress, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PeerProfile{}, server.ErrPeerNotFound
		}
		return PeerProfile{}, fmt.Errorf("failed to get peer: %w", err)
	}
	return p, nil
}

// GetPeerByName retrieves a peer profile by its name on a given server
func (q *Queries) GetPeerByName(ctx context.Context, serverID, name string) (PeerProfile, error) {
	query := `SELECT id, server_id, name, public_key, private_key, assigned_address, created_at
		FROM peer_profiles WHERE server_id = ? AND name = ?`

	var p PeerProfile
	err := q.db.QueryRowContext(ctx, query, serverID, name).
		Scan(&p.ID, &p.ServerID, &p.Name, &p.PublicKey, &p.PrivateKey, &p.AssignedAddress, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PeerProfile{}, server.ErrPeerNotFound
		}
		return PeerProfile{}, fmt.Errorf("failed to get peer by name: %w", err)
	}
	return p, nil
}

// ListPeersByServer returns all peer profiles on a server ordered by
// assigned address
func (q *Queries) ListPeersByServer(ctx context.Context, serverID string) ([]PeerProfile, error) {
	query := `SELECT id, server_id, name, public_key, private_key, assigned_address, created_at
		FROM peer_profiles WHERE server_id = ? ORDER BY assigned_address`

	rows, err := q.db.QueryContext(ctx, query, serverID)
	if err != nil {
		return nil, fmt.Errorf("failed to list peers: %w", err)
	}
	defer rows.Close()

	var peers []PeerProfile
	for rows.Next() {
		var p PeerProfile
		if err := rows.Scan(&p.ID, &p.ServerID, &p.Name, &p.PublicKey, &p.PrivateKey, &p.AssignedAddress, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan peer row: %w", err)
		}
		peers = append(peers, p)
	}
	return peers, rows.Err()
}

// GetAllocatedAddresses returns the tunnel addresses currently assigned on a
// server, for the allocator
func (q *Queries) GetAllocatedAddresses(ctx context.Context, serverID string) ([]string, error) {
	query := `SELECT assigned_address FROM peer_profiles WHERE server_id = ? ORDER BY assigned_address`

	rows, err := q.db.QueryContext(ctx, query, serverID)
	if err != nil {
		return nil, fmt.Errorf("failed to get allocated addresses: %w", err)
	}
	defer rows.Close()

	var addresses []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("failed to scan address: %w", err)
		}
		addresses = append(addresses, addr)
	}
	return addresses, rows.Err()
}

// CountPeersByServer returns the number of peer profiles on a server
func (q *Queries) CountPeersByServer(ctx context.Context, serverID string) (int64, error) {
	query := `SELECT COUNT(*) FROM peer_profiles WHERE server_id = ?`

	var count int64
	if err := q.db.QueryRowContext(ctx, query, serverID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count peers: %w", err)
	}
	return count, nil
}

// DeletePeer removes a peer profile by ID
func (q *Queries) DeletePeer(ctx context.Context, id string) error {
	query := `DELETE FROM peer_profiles WHERE id = ?`

	result, err := q.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete peer: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return server.ErrPeerNotFound
	}
	return nil
}
