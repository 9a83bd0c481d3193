package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/mbd888/blueprintstore/internal/artifacts"
	"github.com/mbd888/blueprintstore/internal/idgen"
	"github.com/mbd888/blueprintstore/internal/validation"
)

// Upload errors
var (
	ErrNotJSON     = errors.New("catalog: artifact must be a JSON file")
	ErrInvalidJSON = errors.New("catalog: artifact is not valid JSON")
	ErrTooLarge    = errors.New("catalog: artifact exceeds size limit")
)

const (
	// MaxArtifactSize is the largest accepted blueprint file.
	MaxArtifactSize = 10 << 20

	maxPrice    = 10000
	minTitle    = 3
	minDesc     = 10
	maxFeatures = 50
)

var validID = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}[a-z0-9]$`)

// Input is the admin-editable part of a blueprint.
type Input struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	LongDescription string   `json:"longDescription"`
	Category        string   `json:"category"`
	Price           int64    `json:"price"`
	Currency        string   `json:"currency"`
	Features        []string `json:"features"`
}

// Service implements catalog administration on top of a Store.
type Service struct {
	store     Store
	artifacts artifacts.Store
	now       func() time.Time
}

// NewService creates a catalog service.
func NewService(store Store, artifactStore artifacts.Store) *Service {
	return &Service{store: store, artifacts: artifactStore, now: time.Now}
}

// Store exposes the underlying store for read paths.
func (s *Service) Store() Store {
	return s.store
}

func (s *Service) Get(ctx context.Context, id string) (*Blueprint, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]*Blueprint, error) {
	return s.store.List(ctx)
}

// Create validates in and inserts a new blueprint. A missing id is derived
// from the title.
func (s *Service) Create(ctx context.Context, in Input) (*Blueprint, error) {
	in = sanitize(in)
	if in.ID == "" {
		in.ID = idgen.Slug(in.Title)
	}
	if errs := validate(in); len(errs) > 0 {
		return nil, errs
	}

	now := s.now()
	b := &Blueprint{
		ID:              in.ID,
		Title:           in.Title,
		Description:     in.Description,
		LongDescription: in.LongDescription,
		Category:        in.Category,
		Price:           in.Price,
		Currency:        in.Currency,
		Features:        in.Features,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.Create(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Update replaces the editable fields of an existing blueprint. The id in
// the path wins over any id in the body.
func (s *Service) Update(ctx context.Context, id string, in Input) (*Blueprint, error) {
	in = sanitize(in)
	in.ID = id
	if errs := validate(in); len(errs) > 0 {
		return nil, errs
	}

	existing, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	existing.Title = in.Title
	existing.Description = in.Description
	existing.LongDescription = in.LongDescription
	existing.Category = in.Category
	existing.Price = in.Price
	existing.Currency = in.Currency
	existing.Features = in.Features
	existing.UpdatedAt = s.now()

	if err := s.store.Update(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// UploadArtifact stores a JSON blueprint file and attaches it to blueprint
// id. Returns the storage key, "<id>-<unix ms>.json".
func (s *Service) UploadArtifact(ctx context.Context, id, filename, contentType string, data []byte) (string, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return "", err
	}
	if !isJSONUpload(filename, contentType) {
		return "", ErrNotJSON
	}
	if len(data) > MaxArtifactSize {
		return "", ErrTooLarge
	}
	if !json.Valid(data) {
		return "", ErrInvalidJSON
	}

	key := fmt.Sprintf("%s-%d.json", id, s.now().UnixMilli())
	if err := s.artifacts.Put(ctx, key, data, artifacts.ContentTypeJSON); err != nil {
		return "", err
	}
	if err := s.store.SetArtifact(ctx, id, key); err != nil {
		return "", err
	}
	return key, nil
}

func isJSONUpload(filename, contentType string) bool {
	if strings.EqualFold(path.Ext(filename), ".json") {
		return true
	}
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.EqualFold(strings.TrimSpace(mt), artifacts.ContentTypeJSON)
}

func sanitize(in Input) Input {
	in.ID = strings.ToLower(strings.TrimSpace(in.ID))
	in.Title = validation.SanitizeString(in.Title, validation.MaxStringLength)
	in.Description = validation.SanitizeString(in.Description, validation.MaxStringLength)
	in.LongDescription = validation.SanitizeString(in.LongDescription, 4*validation.MaxStringLength)
	in.Category = validation.SanitizeString(in.Category, validation.MaxStringLength)
	in.Currency = strings.ToLower(strings.TrimSpace(in.Currency))
	if in.Currency == "" {
		in.Currency = DefaultCurrency
	}

	features := make([]string, 0, len(in.Features))
	for _, f := range in.Features {
		if f = validation.SanitizeString(f, validation.MaxStringLength); f != "" {
			features = append(features, f)
		}
	}
	in.Features = features
	return in
}

func validate(in Input) validation.ValidationErrors {
	errs := validation.Validate(
		validation.Required("title", in.Title),
		validation.MinLength("title", in.Title, minTitle),
		validation.Required("description", in.Description),
		validation.MinLength("description", in.Description, minDesc),
		validation.Required("category", in.Category),
		validation.IntRange("price", in.Price, 1, maxPrice),
	)
	if !validID.MatchString(in.ID) {
		errs = append(errs, validation.ValidationError{Field: "id", Message: "must be 3-64 lowercase alphanumerics or hyphens"})
	}
	if len(in.Currency) != 3 {
		errs = append(errs, validation.ValidationError{Field: "currency", Message: "must be a 3-letter ISO code"})
	}
	if len(in.Features) > maxFeatures {
		errs = append(errs, validation.ValidationError{Field: "features", Message: "too many entries"})
	}
	return dedupeFields(errs)
}

// dedupeFields keeps the first error per field so "title is required" is not
// followed by "title is too short".
func dedupeFields(errs validation.ValidationErrors) validation.ValidationErrors {
	seen := make(map[string]bool, len(errs))
	out := errs[:0]
	for _, e := range errs {
		if seen[e.Field] {
			continue
		}
		seen[e.Field] = true
		out = append(out, e)
	}
	return out
}
