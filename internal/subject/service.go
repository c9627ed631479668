// Package subject keeps the collection of tracked subjects.
package subject

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sentimentjester/jester/internal/model"
)

type Store interface {
	GetAll(ctx context.Context) ([]model.Subject, error)
	PutAll(ctx context.Context, subjects []model.Subject) error
}

type Service struct {
	store Store

	mx       sync.RWMutex
	subjects []model.Subject
}

func New(ctx context.Context, store Store) (*Service, error) {
	all, err := store.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading subjects: %w", err)
	}
	return &Service{store: store, subjects: all}, nil
}

type AddParams struct {
	Name      string `json:"name"`
	Subreddit string `json:"subreddit"`
	Hashtag   string `json:"hashtag"`
	VideoLink string `json:"videoLink"`
	Img       string `json:"img,omitempty"`
}

func (s *Service) Add(ctx context.Context, p AddParams) (model.Subject, error) {
	if strings.TrimSpace(p.Name) == "" {
		return model.Subject{}, fmt.Errorf("%w: subject name is required", model.ErrInvalidRequest)
	}
	if p.Subreddit == "" && p.Hashtag == "" && p.VideoLink == "" {
		return model.Subject{}, fmt.Errorf("%w: subject %s needs at least one platform identifier", model.ErrInvalidRequest, p.Name)
	}
	subj := model.Subject{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(p.Name),
		Subreddit: strings.TrimPrefix(strings.TrimSpace(p.Subreddit), "r/"),
		Hashtag:   strings.TrimPrefix(strings.TrimSpace(p.Hashtag), "#"),
		VideoLink: strings.TrimSpace(p.VideoLink),
		Img:       p.Img,
		CreatedAt: time.Now().UTC(),
	}

	s.mx.Lock()
	defer s.mx.Unlock()
	next := append(append(make([]model.Subject, 0, len(s.subjects)+1), s.subjects...), subj)
	if err := s.store.PutAll(ctx, next); err != nil {
		return model.Subject{}, fmt.Errorf("persisting subject: %w", err)
	}
	s.subjects = next
	return subj, nil
}

func (s *Service) Get(id string) (model.Subject, error) {
	s.mx.RLock()
	defer s.mx.RUnlock()
	for _, subj := range s.subjects {
		if subj.ID == id {
			return subj, nil
		}
	}
	return model.Subject{}, fmt.Errorf("subject %s: %w", id, model.ErrNotFound)
}

func (s *Service) List() []model.Subject {
	s.mx.RLock()
	defer s.mx.RUnlock()
	return append([]model.Subject(nil), s.subjects...)
}

// Delete removes subject id. Reports referencing it are kept.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	next := make([]model.Subject, 0, len(s.subjects))
	for _, subj := range s.subjects {
		if subj.ID != id {
			next = append(next, subj)
		}
	}
	if len(next) == len(s.subjects) {
		return false, nil
	}
	if err := s.store.PutAll(ctx, next); err != nil {
		return false, fmt.Errorf("persisting subjects: %w", err)
	}
	s.subjects = next
	return true, nil
}
