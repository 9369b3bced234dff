package projects

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/EmmanuelGava/sincrogoo/backend/internal/models"
	"github.com/EmmanuelGava/sincrogoo/backend/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrProjectNotFound indicates the requested project does not exist.
	ErrProjectNotFound = errors.New("projects: project not found")
	// ErrInvalidProject indicates a create request without a usable name or owner.
	ErrInvalidProject = errors.New("projects: owner and name are required")
)

// ServiceConfig describes the dependencies of the project lifecycle service.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider store.IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service manages explicit project creation and deletion. Deleting a project
// cascades to everything it owns, keeping deletion symmetric with the
// document-to-cell cascade.
type Service struct {
	db         *gorm.DB
	idProvider store.IDProvider
	clock      func() time.Time
	logger     *zap.Logger
}

// NewService constructs the project service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("projects: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("projects: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		idProvider: cfg.IDProvider,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Create registers a new project for the owner.
func (s *Service) Create(ctx context.Context, ownerID, name string) (models.Project, error) {
	ownerID = strings.TrimSpace(ownerID)
	name = strings.TrimSpace(name)
	if ownerID == "" || name == "" {
		return models.Project{}, ErrInvalidProject
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return models.Project{}, err
	}
	project := models.Project{
		ID:      id,
		OwnerID: ownerID,
		Name:    name,
	}
	if err := s.db.WithContext(ctx).Create(&project).Error; err != nil {
		return models.Project{}, err
	}
	s.logger.Info("project created",
		zap.String("project_id", project.ID),
		zap.String("owner_id", ownerID))
	return project, nil
}

// Get loads a project by id.
func (s *Service) Get(ctx context.Context, projectID string) (models.Project, error) {
	var project models.Project
	err := s.db.WithContext(ctx).Where("id = ?", projectID).Take(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Project{}, ErrProjectNotFound
	}
	if err != nil {
		return models.Project{}, err
	}
	return project, nil
}

// ListByOwner returns the owner's projects, most recently updated first.
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]models.Project, error) {
	var projects []models.Project
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("updated_at DESC").
		Find(&projects).Error
	if err != nil {
		return nil, err
	}
	return projects, nil
}

// Delete removes a project and cascades through its documents, decks, and
// their leaf records inside one transaction.
func (s *Service) Delete(ctx context.Context, projectID string) error {
	if strings.TrimSpace(projectID) == "" {
		return ErrProjectNotFound
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var project models.Project
		if err := tx.Where("id = ?", projectID).Take(&project).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrProjectNotFound
			}
			return err
		}

		var documentIDs []string
		if err := tx.Model(&models.Document{}).
			Where("project_id = ?", projectID).
			Pluck("id", &documentIDs).Error; err != nil {
			return err
		}
		if len(documentIDs) > 0 {
			if err := tx.Where("document_id IN ?", documentIDs).Delete(&models.Cell{}).Error; err != nil {
				return err
			}
			if err := tx.Where("document_id IN ?", documentIDs).Delete(&models.Association{}).Error; err != nil {
				return err
			}
			if err := tx.Where("document_id IN ?", documentIDs).Delete(&models.SyncEvent{}).Error; err != nil {
				return err
			}
		}

		var deckIDs []string
		if err := tx.Model(&models.Deck{}).
			Where("project_id = ?", projectID).
			Pluck("id", &deckIDs).Error; err != nil {
			return err
		}
		if len(deckIDs) > 0 {
			var pageIDs []string
			if err := tx.Model(&models.Page{}).
				Where("deck_id IN ?", deckIDs).
				Pluck("id", &pageIDs).Error; err != nil {
				return err
			}
			if len(pageIDs) > 0 {
				if err := tx.Where("page_id IN ?", pageIDs).Delete(&models.Element{}).Error; err != nil {
					return err
				}
			}
			if err := tx.Where("deck_id IN ?", deckIDs).Delete(&models.Page{}).Error; err != nil {
				return err
			}
		}

		if err := tx.Where("project_id = ?", projectID).Delete(&models.Document{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", projectID).Delete(&models.Deck{}).Error; err != nil {
			return err
		}
		return tx.Delete(&project).Error
	})
	if err != nil {
		return err
	}

	s.logger.Info("project deleted", zap.String("project_id", projectID))
	return nil
}
