package repository

import (
	"database/sql"

	"golang.org/x/crypto/bcrypt"

	"mosaic-api/models"
)

type UsersRepository struct {
	db *sql.DB
}

func NewUsersRepository(db *sql.DB) *UsersRepository {
	return &UsersRepository{db: db}
}

func (r *UsersRepository) CreateUser(email, password, displayName string) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user := &models.User{Email: email, DisplayName: displayName}
	err = r.db.QueryRow(`
		INSERT INTO users (email, password_hash, display_name)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, email, string(hash), displayName).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *UsersRepository) GetUserByEmail(email string) (*models.User, error) {
	user := &models.User{}
	var avatarKey sql.NullString
	err := r.db.QueryRow(`
		SELECT id, email, password_hash, display_name, avatar_key, created_at
		FROM users
		WHERE email = $1
	`, email).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.DisplayName, &avatarKey, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	user.AvatarKey = avatarKey.String
	return user, nil
}

func (r *UsersRepository) GetUserByID(id int) (*models.User, error) {
	user := &models.User{}
	var avatarKey sql.NullString
	err := r.db.QueryRow(`
		SELECT id, email, password_hash, display_name, avatar_key, created_at
		FROM users
		WHERE id = $1
	`, id).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.DisplayName, &avatarKey, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	user.AvatarKey = avatarKey.String
	return user, nil
}

func (r *UsersRepository) SetAvatarKey(userID int, key string) error {
	_, err := r.db.Exec(`UPDATE users SET avatar_key = $1 WHERE id = $2`, key, userID)
	return err
}

// ListUserIDs returns every registered user id, used for notification
// fan-out when content is published.
func (r *UsersRepository) ListUserIDs() ([]int, error) {
	rows, err := r.db.Query(`SELECT id FROM users`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
