package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/klaroops/backend/internal/apperr"
	"github.com/klaroops/backend/internal/audit"
	"github.com/klaroops/backend/internal/models"
	"github.com/klaroops/backend/internal/repository"
)

// AdminSubject is the token subject of the shared admin login, which has no
// users row.
const AdminSubject = "admin"

const minPasswordLen = 8

type Claims struct {
	jwt.RegisteredClaims
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      Identity  `json:"user"`
}

type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	CreateTx(ctx context.Context, tx pgx.Tx, u *models.User) error
}

type ClientCreator interface {
	CreateTx(ctx context.Context, tx pgx.Tx, c *models.Client) error
}

type Options struct {
	Secret        string
	AdminPassword string
	AdminEmail    string
	TrialDays     int
	TTL           time.Duration
}

type Service struct {
	users   UserStore
	clients ClientCreator
	audit   audit.Mutator
	secret  []byte
	opts    Options
	now     func() time.Time
}

func NewService(users UserStore, clients ClientCreator, mutator audit.Mutator, opts Options) *Service {
	if opts.TTL == 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.TrialDays == 0 {
		opts.TrialDays = 14
	}
	return &Service{users: users, clients: clients, audit: mutator, secret: []byte(opts.Secret), opts: opts, now: time.Now}
}

func invalidCredentials() error {
	return &apperr.Error{Kind: apperr.KindAuthenticationRequired, Message: "invalid email or password"}
}

// Login checks email and password against the users table.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	if email == "" || password == "" {
		return nil, apperr.Invalid("email", "email and password are required")
	}
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, invalidCredentials()
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, invalidCredentials()
	}
	return s.Issue(Identity{ID: u.ID.String(), Name: u.Name, Email: u.Email, Role: u.Role})
}

// AdminLogin accepts the single shared admin password.
func (s *Service) AdminLogin(_ context.Context, password string) (*Session, error) {
	if s.opts.AdminPassword == "" {
		return nil, apperr.Forbidden("admin login is disabled")
	}
	if subtle.ConstantTimeCompare([]byte(password), []byte(s.opts.AdminPassword)) != 1 {
		return nil, &apperr.Error{Kind: apperr.KindAuthenticationRequired, Message: "invalid admin password"}
	}
	return s.Issue(Identity{ID: AdminSubject, Name: "Admin", Email: s.opts.AdminEmail, Role: models.RoleAdmin})
}

type SignupInput struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	BusinessName string `json:"business_name"`
}

// Signup creates a client user and its self-serve trial client together.
func (s *Service) Signup(ctx context.Context, in SignupInput) (*Session, *models.Client, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.BusinessName = strings.TrimSpace(in.BusinessName)
	if in.Name == "" {
		return nil, nil, apperr.Invalid("name", "name is required")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return nil, nil, apperr.Invalid("email", "a valid email is required")
	}
	if len(in.Password) < minPasswordLen {
		return nil, nil, apperr.Invalid("password", fmt.Sprintf("password must be at least %d characters", minPasswordLen))
	}
	if in.BusinessName == "" {
		in.BusinessName = in.Name
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, err
	}
	user := &models.User{Email: in.Email, Name: in.Name, PasswordHash: string(hash), Role: models.RoleClientUser}
	trialEnds := s.now().Add(time.Duration(s.opts.TrialDays) * 24 * time.Hour)
	client := &models.Client{
		Name:             in.BusinessName,
		Email:            in.Email,
		Status:           models.ClientStatusActive,
		Plan:             models.PlanTrial,
		TrialEndsAt:      &trialEnds,
		OnboardingStatus: models.OnboardingNew,
	}

	err = s.audit.Mutate(ctx, func(tx pgx.Tx) (audit.Entry, error) {
		if err := s.users.CreateTx(ctx, tx, user); err != nil {
			return audit.Entry{}, err
		}
		client.UserID = &user.ID
		if err := s.clients.CreateTx(ctx, tx, client); err != nil {
			return audit.Entry{}, err
		}
		return audit.Entry{Actor: audit.ActorPublic, Action: audit.ActionCreate, EntityType: models.EntityClient, EntityID: client.ID, After: client}, nil
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, nil, apperr.Conflict("email already registered")
	}
	if err != nil {
		return nil, nil, err
	}

	sess, err := s.Issue(Identity{ID: user.ID.String(), Name: user.Name, Email: user.Email, Role: user.Role})
	if err != nil {
		return nil, nil, err
	}
	return sess, client, nil
}

// Issue signs a session token for id.
func (s *Service) Issue(id Identity) (*Session, error) {
	now := s.now()
	exp := now.Add(s.opts.TTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
		Name:  id.Name,
		Email: id.Email,
		Role:  id.Role,
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &Session{Token: signed, ExpiresAt: exp, User: id}, nil
}

// ValidateToken verifies the signature and expiry and returns the claims.
func (s *Service) ValidateToken(raw string) (*Claims, error) {
	var c Claims
	_, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, apperr.Unauthenticated()
	}
	if !models.ValidRole(c.Role) || c.Subject == "" {
		return nil, apperr.Unauthenticated()
	}
	return &c, nil
}
