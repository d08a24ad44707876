// Command authctl is a CLI client for the two-factor authentication
// backend: signup and login dialogues with OTP verification, session
// inspection, and role-gated admin/customer queries.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/authgate/client/internal/api"
	"github.com/authgate/client/internal/authflow"
	"github.com/authgate/client/internal/config"
	"github.com/authgate/client/internal/credstore"
	"github.com/authgate/client/internal/guard"
	"github.com/authgate/client/internal/model"
	"github.com/authgate/client/internal/session"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const otpAttempts = 3

func usage() {
	fmt.Fprintf(os.Stderr, `authctl
Usage:
  authctl <cmd> [args]

Commands:
  signup   -u <username> -p <password> [-email <addr>] [-phone <num>] [-role admin|customer]
  login    -i <identifier> -p <password> [-role admin|customer]
  whoami
  users                                (admin only)
  stats                                (admin only)
  profile                              (customer only)
  logout
  health
`)
	os.Exit(2)
}

func main() {
	// Env vars override values from .env
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	defer func() { _ = logger.Sync() }()

	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	client := api.New(cfg.ServerURL, cfg.HTTPTimeout, logger)
	store := openStore(cfg, logger)
	core := session.New(client, store, logger)

	switch cmd {

	case "signup":
		fs := flag.NewFlagSet("signup", flag.ExitOnError)
		username := fs.String("u", "", "username")
		password := fs.String("p", "", "password")
		email := fs.String("email", "", "email (optional)")
		phone := fs.String("phone", "", "phone (optional)")
		role := fs.String("role", "customer", "account role")
		_ = fs.Parse(args)

		flow := authflow.NewSignup(client, model.Role(*role), logger)
		if err := flow.Submit(ctx, *username, *password, *email, *phone); err != nil {
			fail(authflow.UserMessage(err, "signup failed"))
		}
		challenge, _ := flow.Challenge()
		fmt.Println(flow.Message())

		if !verifyInteractively(ctx, challenge.Target, func(otp string) error {
			return flow.VerifyOTP(ctx, otp)
		}) {
			fail("signup verification failed")
		}
		fmt.Println("Account verified. You can now login.")

	case "login":
		fs := flag.NewFlagSet("login", flag.ExitOnError)
		identifier := fs.String("i", "", "username, email, or phone")
		password := fs.String("p", "", "password")
		role := fs.String("role", "customer", "role tab")
		_ = fs.Parse(args)

		flow := authflow.NewLogin(client, core, model.Role(*role), logger)
		if err := flow.SubmitPassword(ctx, *identifier, *password); err != nil {
			fail(authflow.UserMessage(err, "login failed"))
		}
		challenge, _ := flow.Challenge()
		fmt.Println(flow.Message())

		if !verifyInteractively(ctx, challenge.Target, func(otp string) error {
			return flow.VerifyOTP(ctx, otp)
		}) {
			fail("login verification failed")
		}
		state := core.Snapshot()
		fmt.Printf("Logged in as %s (%s)\n", state.Identity.Username, state.Identity.Role)

	case "whoami":
		state, err := core.Initialize(ctx)
		if err != nil {
			logger.Debug("initialize", zap.Error(err))
		}
		if state.Status != session.Authenticated {
			fail("not logged in")
		}
		printJSON(state.Identity)

	case "users":
		token := requireRole(ctx, core, model.RoleAdmin)
		users, err := client.AdminUsers(ctx, token)
		if err != nil {
			fail(authflow.UserMessage(err, "could not list users"))
		}
		printJSON(users)

	case "stats":
		token := requireRole(ctx, core, model.RoleAdmin)
		stats, err := client.AdminStats(ctx, token)
		if err != nil {
			fail(authflow.UserMessage(err, "could not fetch stats"))
		}
		printJSON(stats)

	case "profile":
		token := requireRole(ctx, core, model.RoleCustomer)
		profile, err := client.CustomerProfile(ctx, token)
		if err != nil {
			fail(authflow.UserMessage(err, "could not fetch profile"))
		}
		printJSON(profile)

	case "logout":
		if _, err := core.Initialize(ctx); err != nil {
			logger.Debug("initialize before logout", zap.Error(err))
		}
		core.Logout(ctx)
		fmt.Println("Logged out.")

	case "health":
		if err := client.Health(ctx); err != nil {
			fail(authflow.UserMessage(err, "backend unhealthy"))
		}
		fmt.Println("ok")

	default:
		usage()
	}
}

// requireRole initializes the session and gates the command on the given
// role, exiting when the guard denies navigation.
func requireRole(ctx context.Context, core *session.Core, role model.Role) string {
	state, err := core.Initialize(ctx)
	if err != nil {
		fail(authflow.UserMessage(err, "could not restore session"))
	}
	switch guard.Decide(state, role) {
	case guard.Admit:
	case guard.Wait:
		fail("session still resolving, try again")
	default:
		fail(fmt.Sprintf("requires a logged-in %s account", role))
	}
	token, ok := core.AccessToken(ctx)
	if !ok {
		fail("not logged in")
	}
	return token
}

// verifyInteractively prompts for the 6-digit code, allowing a few
// attempts before giving up.
func verifyInteractively(_ context.Context, target string, verify func(otp string) error) bool {
	reader := bufio.NewReader(os.Stdin)
	for attempt := 0; attempt < otpAttempts; attempt++ {
		fmt.Printf("Enter the 6-digit code sent to %s: ", target)
		line, err := reader.ReadString('\n')
		if err != nil {
			return false
		}
		if err := verify(strings.TrimSpace(line)); err != nil {
			fmt.Fprintln(os.Stderr, authflow.UserMessage(err, "verification failed"))
			continue
		}
		return true
	}
	return false
}

// openStore opens the durable credential store, degrading to an in-memory
// one (every run then starts anonymous) when the file cannot be opened.
func openStore(cfg *config.Config, logger *zap.Logger) credstore.Store {
	store, err := credstore.Open(cfg.CredentialsPath)
	if err != nil {
		logger.Warn("credential store unavailable, sessions will not persist",
			zap.String("path", cfg.CredentialsPath), zap.Error(err))
		return credstore.NewMemory()
	}
	return store
}

func newLogger(cfg *config.Config) *zap.Logger {
	if cfg.DevMode {
		logger, _ := zap.NewDevelopment()
		return logger
	}
	zcfg := zap.NewProductionConfig()
	if level, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	logger, err := zcfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
