package cloud

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/dgrijalva/jwt-go"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/roach88/tillpos/internal/domain"
)

var (
	ErrTenantExists   = errors.New("tenant already exists")
	ErrTenantNotFound = errors.New("tenant not found")
	ErrBadCredentials = errors.New("invalid tenant credentials")
	ErrInvalidToken   = errors.New("invalid token")
)

// TenantClaims is the JWT body handed to a till. The tenant is taken from
// here and never from a request body.
type TenantClaims struct {
	TenantID string `json:"tenant_id"`
	jwt.StandardClaims
}

// TokenIssuer signs and verifies HS256 tenant tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	clock  domain.Clock
}

// NewTokenIssuer returns an issuer whose tokens live for ttl.
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, clock: domain.SystemClock{}}
}

// Issue returns a signed token for tenantID and its expiry.
func (i *TokenIssuer) Issue(tenantID string) (string, time.Time, error) {
	now := i.clock.Now()
	exp := now.Add(i.ttl)
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, &TenantClaims{
		TenantID: tenantID,
		StandardClaims: jwt.StandardClaims{
			Subject:   tenantID,
			ExpiresAt: exp.Unix(),
			IssuedAt:  now.Unix(),
		},
	})
	signed, err := t.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify parses token and returns the tenant it was issued to.
func (i *TokenIssuer) Verify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &TenantClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*TenantClaims)
	if !ok || claims.TenantID == "" {
		return "", ErrInvalidToken
	}
	return claims.TenantID, nil
}

// Tenants is the back-office tenant registry.
type Tenants struct {
	db    *gorm.DB
	clock domain.Clock
}

// NewTenants returns a registry over db.
func NewTenants(db *gorm.DB) *Tenants {
	return &Tenants{db: db, clock: domain.SystemClock{}}
}

// Create registers a tenant and returns its API key. The key is not
// recoverable afterwards.
func (t *Tenants) Create(ctx context.Context, id, name string) (Tenant, string, error) {
	key, err := newAPIKey()
	if err != nil {
		return Tenant{}, "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return Tenant{}, "", fmt.Errorf("hash api key: %w", err)
	}

	tenant := Tenant{ID: id, Name: name, APIKeyHash: string(hash), CreatedAt: t.clock.Now()}
	err = t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&Tenant{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrTenantExists
		}
		return tx.Create(&tenant).Error
	})
	if err != nil {
		if errors.Is(err, ErrTenantExists) {
			return Tenant{}, "", err
		}
		return Tenant{}, "", fmt.Errorf("create tenant %s: %w", id, err)
	}
	return tenant, key, nil
}

// Get loads a tenant.
func (t *Tenants) Get(ctx context.Context, id string) (Tenant, error) {
	var tenant Tenant
	err := t.db.WithContext(ctx).Where("id = ?", id).First(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Tenant{}, ErrTenantNotFound
	}
	if err != nil {
		return Tenant{}, fmt.Errorf("get tenant %s: %w", id, err)
	}
	return tenant, nil
}

// Authenticate checks apiKey against the tenant's stored hash. Unknown
// tenants and wrong keys are indistinguishable to the caller.
func (t *Tenants) Authenticate(ctx context.Context, id, apiKey string) error {
	tenant, err := t.Get(ctx, id)
	if errors.Is(err, ErrTenantNotFound) {
		return ErrBadCredentials
	}
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(tenant.APIKeyHash), []byte(apiKey)) != nil {
		return ErrBadCredentials
	}
	return nil
}

func newAPIKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return "tk_" + hex.EncodeToString(buf), nil
}
