// Package auth is the file-backed account and session store behind the
// storefront login.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"voice-commerce-service/internal/store/jsonfile"
)

const (
	DefaultSessionTTL = 24 * time.Hour
	DefaultBcryptCost = 10
)

var (
	ErrMissingFields      = errors.New("all fields are required")
	ErrUserExists         = errors.New("user already exists with this email")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrIncorrectPassword  = errors.New("current password is incorrect")
	ErrInvalidSession     = errors.New("invalid or expired session")
)

type Preferences struct {
	Newsletter    bool `json:"newsletter"`
	Notifications bool `json:"notifications"`
	VoiceEnabled  bool `json:"voiceEnabled"`
}

type Address struct {
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	ZipCode string `json:"zipCode,omitempty"`
	Country string `json:"country,omitempty"`
}

type Profile struct {
	Phone          string  `json:"phone,omitempty"`
	Address        Address `json:"address"`
	ProfilePicture string  `json:"profilePicture,omitempty"`
}

// User is an account. PasswordHash is only populated inside the store; every
// value handed out has it cleared.
type User struct {
	ID           string      `json:"id"`
	FirstName    string      `json:"firstName"`
	LastName     string      `json:"lastName"`
	Email        string      `json:"email"`
	PasswordHash string      `json:"password,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    *time.Time  `json:"updatedAt,omitempty"`
	LastLogin    *time.Time  `json:"lastLogin"`
	IsActive     bool        `json:"isActive"`
	Preferences  Preferences `json:"preferences"`
	Profile      Profile     `json:"profile"`
}

func (u User) public() User {
	u.PasswordHash = ""
	return u
}

// Session is a login token record.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	IsActive  bool      `json:"isActive"`
}

type Registration struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

// ProfileUpdate carries optional changes; nil fields are left as they are.
type ProfileUpdate struct {
	FirstName   *string      `json:"firstName,omitempty"`
	LastName    *string      `json:"lastName,omitempty"`
	Email       *string      `json:"email,omitempty"`
	Preferences *Preferences `json:"preferences,omitempty"`
	Profile     *Profile     `json:"profile,omitempty"`
}

type LoginResult struct {
	User      User      `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Option func(*Store)

func WithSessionTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithBcryptCost sets the hashing cost. Values outside bcrypt's range are ignored.
func WithBcryptCost(cost int) Option {
	return func(s *Store) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			s.cost = cost
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store keeps users and sessions in two JSON documents. Empty paths keep the
// corresponding data in memory only.
type Store struct {
	mu           sync.Mutex
	usersPath    string
	sessionsPath string
	users        []User
	sessions     []Session

	ttl  time.Duration
	cost int
	now  func() time.Time
}

// Open loads users and sessions from disk.
func Open(usersPath, sessionsPath string, opts ...Option) (*Store, error) {
	s := &Store{
		usersPath:    usersPath,
		sessionsPath: sessionsPath,
		ttl:          DefaultSessionTTL,
		cost:         DefaultBcryptCost,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if usersPath != "" {
		if _, err := jsonfile.Load(usersPath, &s.users); err != nil {
			return nil, fmt.Errorf("open user store: %w", err)
		}
	}
	if sessionsPath != "" {
		if _, err := jsonfile.Load(sessionsPath, &s.sessions); err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
	}
	return s, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an active account with default preferences.
func (s *Store) Register(r Registration) (User, error) {
	email := normalizeEmail(r.Email)
	if strings.TrimSpace(r.FirstName) == "" || strings.TrimSpace(r.LastName) == "" || email == "" || r.Password == "" {
		return User{}, ErrMissingFields
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(r.Password), s.cost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findByEmail(email) >= 0 {
		return User{}, ErrUserExists
	}

	u := User{
		ID:           "user_" + uuid.NewString(),
		FirstName:    strings.TrimSpace(r.FirstName),
		LastName:     strings.TrimSpace(r.LastName),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
		IsActive:     true,
		Preferences: Preferences{
			Notifications: true,
			VoiceEnabled:  true,
		},
	}
	s.users = append(s.users, u)
	if err := s.saveUsers(); err != nil {
		s.users = s.users[:len(s.users)-1]
		return User{}, err
	}
	return u.public(), nil
}

// Login checks the credentials of an active account and opens a session.
// Expired sessions are pruned on the way.
func (s *Store) Login(email, password string) (LoginResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.findByEmail(normalizeEmail(email))
	if idx < 0 || !s.users[idx].IsActive {
		return LoginResult{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(s.users[idx].PasswordHash), []byte(password)) != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	now := s.now().UTC()
	s.users[idx].LastLogin = &now
	if err := s.saveUsers(); err != nil {
		return LoginResult{}, err
	}

	token, err := newToken()
	if err != nil {
		return LoginResult{}, err
	}
	sess := Session{
		ID:        "session_" + uuid.NewString(),
		UserID:    s.users[idx].ID,
		Token:     token,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
		IsActive:  true,
	}
	s.pruneExpired(now)
	s.sessions = append(s.sessions, sess)
	if err := s.saveSessions(); err != nil {
		return LoginResult{}, err
	}

	return LoginResult{User: s.users[idx].public(), Token: token, ExpiresAt: sess.ExpiresAt}, nil
}

// ValidateSession returns the owner of an active, unexpired token.
func (s *Store) ValidateSession(token string) (User, error) {
	if token == "" {
		return User{}, ErrInvalidSession
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, sess := range s.sessions {
		if sess.Token != token || !sess.IsActive || !sess.ExpiresAt.After(now) {
			continue
		}
		idx := s.findByID(sess.UserID)
		if idx < 0 || !s.users[idx].IsActive {
			return User{}, ErrInvalidSession
		}
		return s.users[idx].public(), nil
	}
	return User{}, ErrInvalidSession
}

// Logout deactivates the session holding token. Unknown tokens are ignored.
func (s *Store) Logout(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.sessions {
		if s.sessions[i].Token == token {
			s.sessions[i].IsActive = false
			return s.saveSessions()
		}
	}
	return nil
}

// UpdateProfile applies the non-nil fields of upd.
func (s *Store) UpdateProfile(userID string, upd ProfileUpdate) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.findByID(userID)
	if idx < 0 {
		return User{}, ErrUserNotFound
	}

	u := s.users[idx]
	if upd.FirstName != nil {
		u.FirstName = strings.TrimSpace(*upd.FirstName)
	}
	if upd.LastName != nil {
		u.LastName = strings.TrimSpace(*upd.LastName)
	}
	if upd.Email != nil {
		email := normalizeEmail(*upd.Email)
		if email == "" {
			return User{}, ErrMissingFields
		}
		if other := s.findByEmail(email); other >= 0 && other != idx {
			return User{}, ErrUserExists
		}
		u.Email = email
	}
	if upd.Preferences != nil {
		u.Preferences = *upd.Preferences
	}
	if upd.Profile != nil {
		u.Profile = *upd.Profile
	}
	now := s.now().UTC()
	u.UpdatedAt = &now

	prev := s.users[idx]
	s.users[idx] = u
	if err := s.saveUsers(); err != nil {
		s.users[idx] = prev
		return User{}, err
	}
	return u.public(), nil
}

// ChangePassword replaces the password after verifying the current one.
func (s *Store) ChangePassword(userID, current, next string) error {
	if next == "" {
		return ErrMissingFields
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.findByID(userID)
	if idx < 0 {
		return ErrUserNotFound
	}
	if bcrypt.CompareHashAndPassword([]byte(s.users[idx].PasswordHash), []byte(current)) != nil {
		return ErrIncorrectPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	now := s.now().UTC()
	s.users[idx].PasswordHash = string(hash)
	s.users[idx].UpdatedAt = &now
	return s.saveUsers()
}

// VerifyPassword reports whether password matches the user's.
func (s *Store) VerifyPassword(userID, password string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.findByID(userID)
	if idx < 0 {
		return false, ErrUserNotFound
	}
	return bcrypt.CompareHashAndPassword([]byte(s.users[idx].PasswordHash), []byte(password)) == nil, nil
}

// DeleteUser removes the account and deactivates all of its sessions.
func (s *Store) DeleteUser(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.findByID(userID)
	if idx < 0 {
		return ErrUserNotFound
	}
	s.users = append(s.users[:idx], s.users[idx+1:]...)
	if err := s.saveUsers(); err != nil {
		return err
	}

	for i := range s.sessions {
		if s.sessions[i].UserID == userID {
			s.sessions[i].IsActive = false
		}
	}
	return s.saveSessions()
}

func (s *Store) GetUser(userID string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.findByID(userID)
	if idx < 0 {
		return User{}, ErrUserNotFound
	}
	return s.users[idx].public(), nil
}

// ListUsers returns every account without password hashes.
func (s *Store) ListUsers() []User {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]User, len(s.users))
	for i, u := range s.users {
		out[i] = u.public()
	}
	return out
}

// CleanupExpiredSessions drops expired sessions and returns how many went.
func (s *Store) CleanupExpiredSessions() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.pruneExpired(s.now())
	if removed == 0 {
		return 0, nil
	}
	return removed, s.saveSessions()
}

func (s *Store) pruneExpired(now time.Time) int {
	kept := s.sessions[:0]
	for _, sess := range s.sessions {
		if sess.ExpiresAt.After(now) {
			kept = append(kept, sess)
		}
	}
	removed := len(s.sessions) - len(kept)
	s.sessions = kept
	return removed
}

func (s *Store) findByEmail(email string) int {
	for i, u := range s.users {
		if u.Email == email {
			return i
		}
	}
	return -1
}

func (s *Store) findByID(id string) int {
	for i, u := range s.users {
		if u.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) saveUsers() error {
	if s.usersPath == "" {
		return nil
	}
	if err := jsonfile.Save(s.usersPath, s.users); err != nil {
		return fmt.Errorf("save users: %w", err)
	}
	return nil
}

func (s *Store) saveSessions() error {
	if s.sessionsPath == "" {
		return nil
	}
	if err := jsonfile.Save(s.sessionsPath, s.sessions); err != nil {
		return fmt.Errorf("save sessions: %w", err)
	}
	return nil
}

// newToken returns 32 random bytes, hex encoded.
func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
