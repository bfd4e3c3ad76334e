package core

import (
	"context"
	"errors"
)

// UserID is the stable identifier an IdentityProvider yields for an
// authenticated user.
type UserID string

// ErrAuthFailed is returned when a token cannot be resolved to a user.
var ErrAuthFailed = errors.New("authentication failed")

// ErrDocumentNotFound is returned by DocumentStore lookups for unknown keys.
var ErrDocumentNotFound = errors.New("document not found")

// ErrBlobNotFound is returned by BlobStore lookups for unknown keys.
var ErrBlobNotFound = errors.New("blob not found")

// IdentityProvider authenticates a user token. The OAuth dance and credential
// storage live outside this module.
type IdentityProvider interface {
	Authenticate(ctx context.Context, token string) (UserID, error)
}

// DocumentStore is the keyed persistence collaborator for users, chat
// transcripts and resume metadata.
type DocumentStore interface {
	Put(ctx context.Context, key string, doc []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// BlobStore is the collaborator holding uploaded and generated files.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// TextExtractor turns an uploaded resume file into a structured profile.
// Unreadable input is classified InputInvalid.
type TextExtractor interface {
	Extract(ctx context.Context, filename string, data []byte) (CandidateProfile, error)
}

// Renderer turns a structured document into a downloadable file.
type Renderer interface {
	Render(ctx context.Context, doc ResumeDocument) ([]byte, error)
}
