package main

import (
	"context"
	"fmt"
	"io"
	"time"

	goIdP "github.com/MrEthical07/goIdP"
	"github.com/MrEthical07/goIdP/gormstore"
	"github.com/MrEthical07/goIdP/password"
	"github.com/sirupsen/logrus"
)

type app struct {
	out io.Writer
	in  io.Reader
	log *logrus.Logger

	dsn           string
	providersPath string
	redisAddr     string
	algorithm     string
}

func (a *app) dispatch(ctx context.Context, command string, args []string) error {
	switch command {
	case "hash":
		return a.hash(args)
	case "verify-hash":
		return a.verifyHash(args)
	case "migrate":
		return a.migrate(ctx, args)
	case "create":
		return a.create(ctx, args)
	case "lock", "unlock":
		return a.setLock(ctx, command == "lock", args)
	case "reset":
		return a.reset(ctx, args)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}
}

func needArgs(args []string, min, max int, shape string) error {
	if len(args) < min || len(args) > max {
		return fmt.Errorf("%w: expected %s", errUsage, shape)
	}
	return nil
}

func (a *app) hasher() (*password.Policy, error) {
	cfg := goIdP.DefaultConfig().Password
	if a.algorithm != "" {
		cfg.Algorithm = goIdP.PasswordAlgorithm(a.algorithm)
	}
	return password.New(password.Config{
		Algorithm:   string(cfg.Algorithm),
		Iterations:  uint32(cfg.Iterations),
		Memory:      cfg.Memory,
		Time:        cfg.Time,
		Parallelism: cfg.Parallelism,
		SaltLength:  cfg.SaltLength,
		KeyLength:   cfg.KeyLength,
	})
}

func (a *app) hash(args []string) error {
	if err := needArgs(args, 0, 0, "no arguments"); err != nil {
		return err
	}
	h, err := a.hasher()
	if err != nil {
		return err
	}
	plaintext, err := a.promptPassword("Password: ")
	if err != nil {
		return err
	}
	encoded, err := h.Hash(plaintext)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, encoded)
	return nil
}

func (a *app) verifyHash(args []string) error {
	if err := needArgs(args, 1, 1, "<phc>"); err != nil {
		return err
	}
	h, err := a.hasher()
	if err != nil {
		return err
	}
	plaintext, err := a.promptPassword("Password: ")
	if err != nil {
		return err
	}
	ok, err := h.Verify(plaintext, args[0])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("password does not match")
	}
	fmt.Fprintln(a.out, "ok")
	return nil
}

func (a *app) migrate(ctx context.Context, args []string) error {
	if err := needArgs(args, 0, 0, "no arguments"); err != nil {
		return err
	}
	db, dialect, err := a.openDB()
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	if err := gormstore.Migrate(ctx, db, dialect); err != nil {
		return err
	}
	a.log.WithField("dialect", dialect).Info("migrations applied")
	fmt.Fprintf(a.out, "migrated %s database\n", dialect)
	return nil
}

func (a *app) create(ctx context.Context, args []string) error {
	if err := needArgs(args, 4, 5, "<realm> <provider> <user-id> <username> [email]"); err != nil {
		return err
	}
	env, err := a.openEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	m, err := env.registry.Resolve(args[0], args[1])
	if err != nil {
		return err
	}
	p, ok := m.(*goIdP.PasswordProvider)
	if !ok {
		return fmt.Errorf("%w: %s is a %s provider", goIdP.ErrNoSuchAuthority, args[1], m.Authority())
	}

	email := ""
	if len(args) == 5 {
		email = args[4]
	}
	plaintext, err := a.promptPassword("Initial password: ")
	if err != nil {
		return err
	}
	account, err := p.CreateAccount(ctx, args[2], args[3], email, plaintext)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "created %s (%s)\n", account.AccountID, account.UUID)
	return nil
}

func (a *app) setLock(ctx context.Context, lock bool, args []string) error {
	if err := needArgs(args, 3, 3, "<realm> <provider> <account>"); err != nil {
		return err
	}
	env, err := a.openEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	var account goIdP.Account
	if lock {
		account, err = env.registry.LockAccount(ctx, args[0], args[1], args[2])
	} else {
		account, err = env.registry.UnlockAccount(ctx, args[0], args[1], args[2])
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s %s\n", account.AccountID, account.Status)
	return nil
}

func (a *app) reset(ctx context.Context, args []string) error {
	if err := needArgs(args, 3, 3, "<realm> <provider> <username>"); err != nil {
		return err
	}
	env, err := a.openEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	view, err := env.registry.RequestPasswordReset(ctx, args[0], args[1], args[2])
	if err != nil {
		return err
	}
	deadline := ""
	if view.ResetDeadline != nil {
		deadline = view.ResetDeadline.Format(time.RFC3339)
	}
	fmt.Fprintf(a.out, "credential %s\nkey %s\nexpires %s\n", view.ID, view.ResetKey, deadline)
	return nil
}
