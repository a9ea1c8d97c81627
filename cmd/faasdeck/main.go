package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/splax/faasdeck/internal/console"
	"github.com/splax/faasdeck/internal/repository"
	"github.com/splax/faasdeck/internal/repository/file"
	"github.com/splax/faasdeck/internal/repository/redis"
	"github.com/splax/faasdeck/internal/session"
	"github.com/splax/faasdeck/pkg/config"
	"github.com/splax/faasdeck/pkg/logger"
)

var buildVersion = "dev"

const requestTimeout = 30 * time.Second

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "login":
		err = commandLogin(args)
	case "logout":
		err = commandLogout(args)
	case "status":
		err = commandStatus(args)
	case "functions", "fn":
		err = commandFunctions(args)
	case "secrets":
		err = commandSecrets(args)
	case "build":
		err = commandBuild(args)
	case "builds":
		err = commandBuilds(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app bundles the configured console for one command invocation.
type app struct {
	cfg      config.ConsoleConfig
	logger   *slog.Logger
	registry *prometheus.Registry
	console  *console.Service
	closers  []io.Closer
}

func newApp(gateway string) (*app, error) {
	cfg := config.LoadConsoleConfig()
	if strings.TrimSpace(gateway) != "" {
		cfg.GatewayURL = gateway
	}
	log := logger.New(os.Stderr, "faasdeck", logger.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	a := &app{cfg: cfg, logger: log, registry: prometheus.NewRegistry()}
	repo, err := a.openRepository()
	if err != nil {
		return nil, err
	}
	a.console, err = console.New(console.Options{
		Config:     cfg,
		Repository: repo,
		Logger:     log,
		Registerer: a.registry,
		Notifier:   func(msg string) { fmt.Fprintln(os.Stderr, msg) },
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) openRepository() (repository.SessionRepository, error) {
	switch strings.ToLower(strings.TrimSpace(a.cfg.SessionStore)) {
	case config.SessionStoreRedis:
		store, err := redis.New(a.cfg.RedisAddr, a.cfg.RedisPassword, a.cfg.RedisDB, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store)
		return store, nil
	case config.SessionStoreFile, "":
		return file.New(a.cfg.SessionPath, a.cfg.SessionKey)
	default:
		return nil, fmt.Errorf("unknown session store %q (file|redis)", a.cfg.SessionStore)
	}
}

// resume restores the stored session or explains how to get one.
func (a *app) resume(ctx context.Context) error {
	_, err := a.console.Resume(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrNotAuthenticated):
		return errors.New("please login first using 'faasdeck login'")
	case errors.Is(err, session.ErrSessionExpired):
		return errors.New("session expired, please login again using 'faasdeck login'")
	default:
		return err
	}
}

func (a *app) Close() {
	if a.console != nil {
		a.console.Close()
	}
	for _, c := range a.closers {
		_ = c.Close()
	}
}

// withSession runs fn against a resumed session.
func withSession(fn func(ctx context.Context, a *app) error) error {
	a, err := newApp("")
	if err != nil {
		return err
	}
	defer a.Close()
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := a.resume(ctx); err != nil {
		return err
	}
	return fn(ctx, a)
}

func parseFlags(fs *pflag.FlagSet, args []string) {
	// ExitOnError flag sets never return an error.
	_ = fs.Parse(args)
}

func commandLogin(args []string) error {
	fs := pflag.NewFlagSet("login", pflag.ExitOnError)
	username := fs.StringP("username", "u", "admin", "Gateway username")
	password := fs.StringP("password", "p", "", "Password (supply to avoid prompt)")
	gateway := fs.String("gateway", "", "Gateway URL (default $FAAS_GATEWAY_URL)")
	parseFlags(fs, args)

	secret := *password
	if secret == "" {
		var err error
		if secret, err = readSecret("Password: "); err != nil {
			return err
		}
	}

	a, err := newApp(*gateway)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	sess, err := a.console.Login(ctx, *gateway, *username, secret)
	if err != nil {
		if errors.Is(err, session.ErrInvalidCredentials) {
			return errors.New("invalid username or password")
		}
		return err
	}
	fmt.Printf("logged in to %s as %s\n", sess.GatewayEndpoint, sess.Username)
	return nil
}

func commandLogout(args []string) error {
	fs := pflag.NewFlagSet("logout", pflag.ExitOnError)
	parseFlags(fs, args)

	a, err := newApp("")
	if err != nil {
		return err
	}
	defer a.Close()
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := a.resume(ctx); err != nil {
		fmt.Println("not logged in")
		return nil
	}
	return a.console.Logout(ctx)
}

func commandStatus(args []string) error {
	fs := pflag.NewFlagSet("status", pflag.ExitOnError)
	parseFlags(fs, args)

	return withSession(func(ctx context.Context, a *app) error {
		sess, _ := a.console.Sessions().Current()
		fmt.Printf("gateway:  %s\n", sess.GatewayEndpoint)
		fmt.Printf("user:     %s\n", sess.Username)
		if !sess.TokenExpiresAt.IsZero() {
			fmt.Printf("expires:  %s (%s)\n", sess.TokenExpiresAt.Local().Format(time.RFC3339), time.Until(sess.TokenExpiresAt).Round(time.Second))
		}
		info, err := a.console.SystemInfo(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("provider: %s %s (%s)\n", info.Provider.Name, info.Version.Release, info.Arch)
		limits, err := a.console.SystemConfig(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("replicas: default %d, max %d\n", limits.DefaultReplicas, limits.MaxReplicas)
		health, err := a.console.Health(ctx)
		if err != nil {
			return err
		}
		checks := make([]string, 0, len(health.Checks))
		for name, state := range health.Checks {
			checks = append(checks, name+"="+state)
		}
		sort.Strings(checks)
		fmt.Printf("health:   %s (%s)\n", health.Status, strings.Join(checks, ", "))
		return nil
	})
}

func readSecret(prompt string) (string, error) {
	fmt.Print(prompt)
	bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Print("\n")
	if err != nil {
		return "", fmt.Errorf("read %s: %w", strings.ToLower(strings.TrimSuffix(prompt, ": ")), err)
	}
	return string(bytes), nil
}

func printUsage() {
	fmt.Printf("faasdeck CLI %s\n\n", buildVersion)
	fmt.Print(`Usage:
	faasdeck login [--username admin] [--password secret] [--gateway http://localhost:8080]
	faasdeck logout
	faasdeck status
	faasdeck functions list
	faasdeck functions deploy|update --name <name> --image <image> [--env '{"K":"V"}'] [--labels '{"K":"V"}'] [--secret name]...
	faasdeck functions delete <name>
	faasdeck functions scale <name> <replicas>
	faasdeck functions replicas <name>
	faasdeck functions logs <name> [--tail N]
	faasdeck functions invoke <name> [--method POST] [--headers '{"K":"V"}'] [--data body | --data-file f] [--async] [-v]
	faasdeck secrets list
	faasdeck secrets show <name>
	faasdeck secrets create|update <name> [--value v]
	faasdeck secrets delete <name>
	faasdeck build inspect (--git <url> [--ref r] [--path p] | --zip <file> | --dir <dir>) [--manifest file]
	faasdeck build submit  (--git <url> [--ref r] [--path p] | --zip <file> | --dir <dir>) [--name n] [--set path=localfile]... [--remove path]... [--no-deploy]
	faasdeck builds list
	faasdeck builds show <id>
	faasdeck builds clear
	faasdeck builds watch [--metrics-addr :9090]
	faasdeck version

Configuration is read from the environment (FAAS_GATEWAY_URL, FAASDECK_SESSION_STORE, LOG_LEVEL, ...).
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
