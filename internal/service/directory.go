// directory.go — каталог пользователей для отображаемых имён акторов.
//
// Каталог только читается. Ошибка каталога не прерывает чтение:
// вызывающий код оставляет actor_id без display name.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/bigkaa/goartstore/custody-module/internal/domain/model"
	"github.com/bigkaa/goartstore/custody-module/internal/keycloak"
)

// UserDirectory разрешает actor_id в пользователя.
type UserDirectory interface {
	Resolve(ctx context.Context, actorID string) (*model.Actor, error)
}

// UserLookup — источник пользователей (keycloak.Client).
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*keycloak.KeycloakUser, error)
}

// CachedUserDirectory — каталог поверх Keycloak с LRU-кэшем и TTL.
// Одновременные запросы одного actor_id объединяются через singleflight.
// Отсутствующие пользователи тоже кэшируются (пустое имя).
type CachedUserDirectory struct {
	lookup UserLookup
	cache  *expirable.LRU[string, model.Actor]
	group  singleflight.Group
	logger *slog.Logger
}

// NewCachedUserDirectory создаёт каталог с кэшем на size записей и временем жизни ttl.
func NewCachedUserDirectory(lookup UserLookup, size int, ttl time.Duration, logger *slog.Logger) *CachedUserDirectory {
	return &CachedUserDirectory{
		lookup: lookup,
		cache:  expirable.NewLRU[string, model.Actor](size, nil, ttl),
		logger: logger.With(slog.String("component", "user_directory")),
	}
}

// Resolve возвращает пользователя по actor_id.
func (d *CachedUserDirectory) Resolve(ctx context.Context, actorID string) (*model.Actor, error) {
	if actor, ok := d.cache.Get(actorID); ok {
		directoryLookupsTotal.WithLabelValues("hit").Inc()
		return &actor, nil
	}

	v, err, _ := d.group.Do(actorID, func() (any, error) {
		user, err := d.lookup.GetUser(ctx, actorID)
		if err != nil {
			if errors.Is(err, keycloak.ErrUserNotFound) {
				actor := model.Actor{ID: actorID}
				d.cache.Add(actorID, actor)
				return actor, nil
			}
			return nil, err
		}
		actor := model.Actor{ID: actorID, DisplayName: user.DisplayName()}
		d.cache.Add(actorID, actor)
		return actor, nil
	})
	if err != nil {
		directoryLookupsTotal.WithLabelValues("error").Inc()
		d.logger.Warn("Ошибка обращения к каталогу пользователей",
			slog.String("actor_id", actorID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	directoryLookupsTotal.WithLabelValues("miss").Inc()
	actor := v.(model.Actor)
	return &actor, nil
}

// resolveNames возвращает отображаемые имена для набора actor_id.
// Недоступный каталог даёт пустые имена; nil-каталог допустим.
func resolveNames(ctx context.Context, dir UserDirectory, ids []string) map[string]string {
	names := make(map[string]string, len(ids))
	if dir == nil {
		return names
	}
	for _, id := range ids {
		if _, done := names[id]; done || id == "" {
			continue
		}
		actor, err := dir.Resolve(ctx, id)
		if err != nil {
			names[id] = ""
			continue
		}
		names[id] = actor.DisplayName
	}
	return names
}
