package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sos-safeguard-api/internal/models"
	"github.com/noah-isme/sos-safeguard-api/pkg/database"
)

const userColumns = `id, email, password_hash, full_name, tier, sub_role, village_id, granted_villages,
       temp_tier, temp_sub_role, temp_role_expires_at, active, last_login, created_at, updated_at`

// UserRepository provides database access for accounts and their refresh sessions.
type UserRepository struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB, timeout time.Duration) *UserRepository {
	return &UserRepository{db: db, timeout: timeout}
}

// FindByEmail returns a user by email address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1 LIMIT 1`, strings.ToLower(email))
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 LIMIT 1`, id)
}

// UpdateLastLogin updates the last_login timestamp for a user.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	return r.exec(ctx, "update last login", `UPDATE users SET last_login = $2, updated_at = $2 WHERE id = $1`, id, ts)
}

// UpdatePassword updates the stored password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	return r.exec(ctx, "update password", `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`, id, passwordHash, updatedAt)
}

// UpdateRole replaces the permanent tier and sub-role.
func (r *UserRepository) UpdateRole(ctx context.Context, id string, tier models.Tier, subRole models.SubRole, updatedAt time.Time) error {
	return r.exec(ctx, "update role", `UPDATE users SET tier = $2, sub_role = $3, updated_at = $4 WHERE id = $1`, id, tier, subRole, updatedAt)
}

// UpdateGrantedVillages replaces the villages granted beyond the home village.
func (r *UserRepository) UpdateGrantedVillages(ctx context.Context, id string, villages []string, updatedAt time.Time) error {
	return r.exec(ctx, "update granted villages", `UPDATE users SET granted_villages = $2, updated_at = $3 WHERE id = $1`, id, pq.StringArray(villages), updatedAt)
}

// SetTemporaryRole stores or clears (role == nil) a temporary role override.
func (r *UserRepository) SetTemporaryRole(ctx context.Context, id string, role *models.TemporaryRole, updatedAt time.Time) error {
	const query = `UPDATE users SET temp_tier = $2, temp_sub_role = $3, temp_role_expires_at = $4, updated_at = $5 WHERE id = $1`
	if role == nil {
		return r.exec(ctx, "clear temporary role", query, id, nil, nil, nil, updatedAt)
	}
	var sub interface{}
	if role.SubRole != "" {
		sub = role.SubRole
	}
	return r.exec(ctx, "set temporary role", query, id, role.Tier, sub, role.ExpiresAt, updatedAt)
}

// SetActive toggles the account's active flag.
func (r *UserRepository) SetActive(ctx context.Context, id string, active bool, updatedAt time.Time) error {
	return r.exec(ctx, "set user active", `UPDATE users SET active = $2, updated_at = $3 WHERE id = $1`, id, active, updatedAt)
}

// List returns users based on filters with total count.
func (r *UserRepository) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	baseQuery := `FROM users WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Tier != nil {
		conditions = append(conditions, fmt.Sprintf("tier = $%d", len(args)+1))
		args = append(args, *filter.Tier)
	}
	if filter.VillageID != "" {
		conditions = append(conditions, fmt.Sprintf("village_id = $%d", len(args)+1))
		args = append(args, filter.VillageID)
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(email) LIKE $%d OR LOWER(full_name) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]bool{"email": true, "created_at": true, "updated_at": true, "full_name": true, "tier": true}
	sortBy := filter.SortBy
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
	}
	sortOrder := strings.ToUpper(filter.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", userColumns, baseQuery, sortBy, sortOrder, pageSize, offset)
	var users []models.User
	if err := r.db.SelectContext(ctx, &users, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+baseQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}
	return users, total, nil
}

// Create inserts a new user.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	user.Email = strings.ToLower(user.Email)
	if user.GrantedVillages == nil {
		user.GrantedVillages = pq.StringArray{}
	}

	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `INSERT INTO users (id, email, password_hash, full_name, tier, sub_role, village_id, granted_villages, active, created_at, updated_at)
	VALUES (:id, :email, :password_hash, :full_name, :tier, :sub_role, :village_id, :granted_villages, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// RecipientsBySubRole returns active users holding sub, used to route escalations. An empty
// villageID matches users in every village.
func (r *UserRepository) RecipientsBySubRole(ctx context.Context, sub models.SubRole, villageID string) ([]models.Recipient, error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `SELECT id AS user_id, email FROM users
	WHERE active = TRUE AND sub_role = $1 AND ($2 = '' OR village_id = $2 OR $2 = ANY(granted_villages))
	ORDER BY id`
	var out []models.Recipient
	if err := r.db.SelectContext(ctx, &out, query, sub, villageID); err != nil {
		return nil, fmt.Errorf("select recipients: %w", err)
	}
	return out, nil
}

// CreateRefreshToken persists a refresh token entry.
func (r *UserRepository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}

	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `INSERT INTO refresh_tokens (id, user_id, token, expires_at, created_at, revoked, revoked_at, ip_address, user_agent)
	VALUES (:id, :user_id, :token, :expires_at, :created_at, :revoked, :revoked_at, :ip_address, :user_agent)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// FindRefreshToken returns a refresh token by its stored hash.
func (r *UserRepository) FindRefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `SELECT id, user_id, token, expires_at, created_at, revoked, revoked_at, ip_address, user_agent FROM refresh_tokens WHERE token = $1 LIMIT 1`
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, tokenHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &rt, nil
}

// RevokeRefreshToken marks a token as revoked.
func (r *UserRepository) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	return r.exec(ctx, "revoke refresh token", `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE id = $1`, id, revokedAt)
}

// RevokeUserRefreshTokens revokes all refresh tokens for a user.
func (r *UserRepository) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	return r.exec(ctx, "revoke user refresh tokens",
		`UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE user_id = $1 AND revoked = FALSE`, userID, time.Now().UTC())
}

func (r *UserRepository) findOne(ctx context.Context, query string, arg string) (*models.User, error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()

	var user models.User
	if err := r.db.GetContext(ctx, &user, query, arg); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &user, nil
}

func (r *UserRepository) exec(ctx context.Context, op, query string, args ...interface{}) error {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
