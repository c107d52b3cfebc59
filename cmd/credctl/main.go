// Command credctl is the operator tool for goIdP credential stores.
//
// Usage:
//
//	credctl [flags] <command> [args]
//
// Commands:
//
//	hash                                 read a password and print its PHC hash
//	verify-hash <phc>                    read a password and check it against phc
//	migrate                              apply database migrations to -dsn
//	create <realm> <provider> <user-id> <username> [email]
//	lock <realm> <provider> <account>
//	unlock <realm> <provider> <account>
//	reset <realm> <provider> <username>  issue a password reset key
//
// Flags fall back to CREDCTL_DSN, CREDCTL_PROVIDERS and REDIS_ADDR, which may
// also be set in a .env file in the working directory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrEthical07/goIdP/logging"
	"github.com/joho/godotenv"
)

var errUsage = errors.New("usage")

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("credctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		dsn       = fs.String("dsn", os.Getenv("CREDCTL_DSN"), "database DSN (postgres URL or sqlite path)")
		providers = fs.String("providers", os.Getenv("CREDCTL_PROVIDERS"), "YAML providers file")
		redisAddr = fs.String("redis-addr", os.Getenv("REDIS_ADDR"), "redis address for reset throttling")
		algorithm = fs.String("algorithm", "", "hash algorithm for the hash command (pbkdf2 or argon2)")
		logLevel  = fs.String("log-level", "warn", "log level")
	)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: credctl [flags] <hash|verify-hash|migrate|create|lock|unlock|reset> [args]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = *logLevel
	log, closeLog, err := logging.New(logCfg)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	defer func() { _ = closeLog() }()
	log.SetOutput(stderr)

	a := &app{
		out:           stdout,
		in:            os.Stdin,
		log:           log,
		dsn:           *dsn,
		providersPath: *providers,
		redisAddr:     *redisAddr,
		algorithm:     *algorithm,
	}

	if err := a.dispatch(ctx, fs.Arg(0), fs.Args()[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(stderr, err)
			fs.Usage()
			return 2
		}
		log.WithError(err).WithField("command", fs.Arg(0)).Error("command failed")
		return 1
	}
	return 0
}
