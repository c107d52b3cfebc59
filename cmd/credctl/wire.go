package main

import (
	"context"
	"errors"
	"fmt"

	goIdP "github.com/MrEthical07/goIdP"
	"github.com/MrEthical07/goIdP/gormstore"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// environment is the set of providers built from the providers file over one
// database.
type environment struct {
	registry *goIdP.Registry
	close    func()
}

func (a *app) openDB() (*gorm.DB, string, error) {
	if a.dsn == "" {
		return nil, "", fmt.Errorf("%w: -dsn or CREDCTL_DSN is required", errUsage)
	}
	return gormstore.Open(a.dsn)
}

func (a *app) openEnvironment(ctx context.Context) (*environment, error) {
	if a.providersPath == "" {
		return nil, fmt.Errorf("%w: -providers or CREDCTL_PROVIDERS is required", errUsage)
	}
	configs, err := goIdP.LoadProvidersFile(a.providersPath)
	if err != nil {
		return nil, err
	}

	db, _, err := a.openDB()
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	var rdb redis.UniversalClient
	if a.redisAddr != "" {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{a.redisAddr}})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			_ = sqlDB.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
	}

	registry, err := goIdP.NewRegistry()
	if err != nil {
		return nil, err
	}
	env := &environment{
		registry: registry,
		close: func() {
			registry.Close()
			if rdb != nil {
				_ = rdb.Close()
			}
			_ = sqlDB.Close()
		},
	}

	accounts := gormstore.NewAccountStore(db)
	index := gormstore.NewResourceIndex(db)
	for _, pc := range configs {
		b := goIdP.New().
			WithConfig(pc.Config).
			WithAccountStore(accounts).
			WithResourceIndex(index).
			WithNotificationService(goIdP.LogNotifier{Log: a.log}).
			WithLogger(a.log.WithFields(logrus.Fields{"realm": pc.Realm, "provider": pc.ProviderID}))
		if rdb != nil {
			b.WithRedis(rdb)
		}

		var m goIdP.CredentialManager
		switch pc.Authority {
		case goIdP.AuthorityPassword:
			m, err = b.WithPasswordStore(gormstore.NewPasswordStore(db)).BuildPassword()
		case goIdP.AuthorityWebAuthn:
			m, err = b.WithWebAuthnStore(gormstore.NewWebAuthnStore(db)).BuildWebAuthn()
		default:
			err = errors.New("unknown authority " + pc.Authority)
		}
		if err == nil {
			if err = registry.Register(m); err != nil {
				m.Close()
			}
		}
		if err != nil {
			env.close()
			return nil, fmt.Errorf("provider %s/%s: %w", pc.Realm, pc.ProviderID, err)
		}
	}
	return env, nil
}
