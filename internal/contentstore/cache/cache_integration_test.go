//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"certledger/internal/contentstore/mocks"
	"certledger/pkg/testutil/containers"
)

type CacheIntegrationSuite struct {
	suite.Suite
	redis *containers.RedisContainer
}

func TestCacheIntegrationSuite(t *testing.T) {
	suite.Run(t, new(CacheIntegrationSuite))
}

func (s *CacheIntegrationSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
}

func (s *CacheIntegrationSuite) SetupTest() {
	s.Require().NoError(s.redis.Client.FlushAll(context.Background()).Err())
}

func (s *CacheIntegrationSuite) TestReadThrough() {
	ctx := context.Background()
	ctrl := gomock.NewController(s.T())
	next := mocks.NewMockClient(ctrl)
	store := New(next, s.redis.Client, WithTTL(time.Hour))

	// only the first read reaches the underlying store
	next.EXPECT().Get(gomock.Any(), "bafk1").Return([]byte(`{"a":1}`), nil).Times(1)

	for range 3 {
		got, err := store.Get(ctx, "bafk1")
		s.Require().NoError(err)
		s.Equal([]byte(`{"a":1}`), got)
	}

	ttl, err := s.redis.Client.TTL(ctx, payloadKeyPrefix+"bafk1").Result()
	s.Require().NoError(err)
	s.Greater(ttl, 59*time.Minute)
}

func (s *CacheIntegrationSuite) TestPutWarmsCache() {
	ctx := context.Background()
	ctrl := gomock.NewController(s.T())
	next := mocks.NewMockClient(ctrl)
	store := New(next, s.redis.Client)

	next.EXPECT().Put(gomock.Any(), []byte(`{"b":2}`)).Return("bafk2", nil)
	_, err := store.Put(ctx, []byte(`{"b":2}`))
	s.Require().NoError(err)

	cached, err := s.redis.Client.Get(ctx, payloadKeyPrefix+"bafk2").Bytes()
	s.Require().NoError(err)
	s.Equal([]byte(`{"b":2}`), cached)

	_, err = s.redis.Client.Get(ctx, payloadKeyPrefix+"missing").Bytes()
	s.ErrorIs(err, redis.Nil)
}
