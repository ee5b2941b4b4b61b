package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const refScheme = "local://"

var (
	ErrInvalidPath      = errors.New("invalid blob path")
	ErrInvalidRef       = errors.New("invalid blob reference")
	ErrInvalidSignedURL = errors.New("invalid or expired signed url")
)

// LocalStore keeps blobs under a root directory and hands out JWT-signed download URLs.
type LocalStore struct {
	root          string
	publicBaseURL string
	secret        []byte
}

type signedClaims struct {
	Ref string `json:"ref"`
	jwt.RegisteredClaims
}

func NewLocalStore(root, publicBaseURL, signingSecret string) (*LocalStore, error) {
	if root == "" || signingSecret == "" {
		return nil, fmt.Errorf("local store needs a root and a signing secret")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create blob root failed: %w", err)
	}
	return &LocalStore{
		root:          root,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		secret:        []byte(signingSecret),
	}, nil
}

// EvidencePath builds the per-user object path for an uploaded artifact.
func EvidencePath(userID, sessionID uint, fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	if len(ext) > 10 {
		ext = ""
	}
	return fmt.Sprintf("users/%d/captures/%d/%s%s", userID, sessionID, uuid.NewString(), ext)
}

func (s *LocalStore) Put(ctx context.Context, objectPath string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	full, err := s.resolve(objectPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", fmt.Errorf("create blob dir failed: %w", err)
	}
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return "", fmt.Errorf("write blob failed: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("commit blob failed: %w", err)
	}
	return refScheme + path.Clean(objectPath), nil
}

// Get reads back a blob by the reference Put returned.
func (s *LocalStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.refPath(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("read blob failed: %w", err)
	}
	return data, nil
}

func (s *LocalStore) SignedURL(_ context.Context, ref string, ttl time.Duration) (string, error) {
	if _, err := s.refPath(ref); err != nil {
		return "", err
	}
	now := time.Now()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, signedClaims{
		Ref: ref,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign blob url failed: %w", err)
	}
	return s.publicBaseURL + "/" + token, nil
}

// OpenSigned verifies a token produced by SignedURL and opens the blob it names.
func (s *LocalStore) OpenSigned(token string) (io.ReadCloser, string, error) {
	claims := &signedClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return nil, "", ErrInvalidSignedURL
	}
	full, err := s.refPath(claims.Ref)
	if err != nil {
		return nil, "", err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, "", fmt.Errorf("open blob failed: %w", err)
	}
	return f, path.Base(full), nil
}

func (s *LocalStore) refPath(ref string) (string, error) {
	if !strings.HasPrefix(ref, refScheme) {
		return "", ErrInvalidRef
	}
	return s.resolve(strings.TrimPrefix(ref, refScheme))
}

func (s *LocalStore) resolve(objectPath string) (string, error) {
	cleaned := path.Clean("/" + objectPath)
	if cleaned == "/" || cleaned != "/"+strings.TrimPrefix(objectPath, "/") {
		return "", ErrInvalidPath
	}
	return filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(cleaned, "/"))), nil
}
