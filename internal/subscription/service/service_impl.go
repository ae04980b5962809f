package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/meterline/internal/subscription/domain"
	"github.com/smallbiznis/meterline/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	log  *zap.Logger
	repo repository.Repository[subscriptiondomain.Subscription]
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		log:  p.Log.Named("subscription.service"),
		repo: repository.ProvideStore[subscriptiondomain.Subscription](p.DB),
	}
}

func (s *Service) ActiveByOrgID(ctx context.Context, orgID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	sub, err := s.repo.FindOne(ctx, &subscriptiondomain.Subscription{
		OrgID:  orgID,
		Status: subscriptiondomain.StatusActive,
	})
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return sub, nil
}
