// Command issue-token mints an admin JWT or a collaborator service token
// using the secrets from the service environment.
//
//	issue-token -kind admin -subject <uuid> -role admin
//	issue-token -kind service -subject bookings -scopes commissions:write -ttl 720h
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tripledger/commission/internal/auth"
	"github.com/tripledger/commission/internal/infra"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "issue-token:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("issue-token", flag.ContinueOnError)
	kind := fs.String("kind", "service", "token kind: admin or service")
	subject := fs.String("subject", "", "admin user uuid, or collaborator name")
	role := fs.String("role", auth.RoleViewer, "admin role")
	email := fs.String("email", "", "admin email")
	scopes := fs.String("scopes", "", "comma-separated service scopes")
	ttl := fs.Duration("ttl", 24*time.Hour, "service token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := infra.LoadConfig()
	if err != nil {
		return err
	}

	var token string
	switch *kind {
	case "admin":
		id, err := uuid.Parse(*subject)
		if err != nil {
			return fmt.Errorf("admin subject must be a uuid: %w", err)
		}
		expiry, err := time.ParseDuration(cfg.JWTAdminExpiry)
		if err != nil {
			return fmt.Errorf("parse admin JWT expiry: %w", err)
		}
		mgr := auth.NewJWTManager(cfg.JWTSecret, 0, 0, expiry)
		token, err = mgr.GenerateToken(auth.RealmAdmin, id, *email, *role, "active")
		if err != nil {
			return err
		}
	case "service":
		if *subject == "" {
			return fmt.Errorf("service subject is required")
		}
		var list []string
		for _, s := range strings.Split(*scopes, ",") {
			if s = strings.TrimSpace(s); s != "" {
				list = append(list, s)
			}
		}
		if len(list) == 0 {
			return fmt.Errorf("at least one scope is required")
		}
		token, err = auth.NewServiceTokenManager(cfg.ServiceTokenSecret).Generate(*subject, list, *ttl)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown kind %q", *kind)
	}

	fmt.Println(token)
	return nil
}
