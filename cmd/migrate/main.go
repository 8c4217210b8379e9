package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"sentra.org/internal/identity"
	"sentra.org/internal/ids"
	"sentra.org/internal/migrate"
	"sentra.org/internal/rbac"
	"sentra.org/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	var (
		dsn            = flag.String("dsn", os.Getenv("SENTRA_PG_DSN"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", "ops/migrations/sql", "Path to SQL migrations")
		seedsPath      = flag.String("seeds", "ops/migrations/seeds", "Path to SQL seeds")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or SENTRA_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|demo|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, *migrationsPath, *seedsPath)

	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "demo":
		err = seedDemoUsers(ctx, db)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}

// seedDemoUsers creates the dev accounts: a verified admin and manager, and
// an unverified standard user for walking the full handshake. Passwords are
// hashed here rather than baked into seed SQL.
func seedDemoUsers(ctx context.Context, db *sql.DB) error {
	store := pg.NewWithDB(db)
	hasher := identity.BcryptHasher{}
	seeds := []struct {
		username, email, password string
		verified                  bool
		roles                     []string
	}{
		{"admin", "admin@example.com", "admin123", true, []string{rbac.RoleAdmin}},
		{"manager", "manager@example.com", "manager123", true, []string{rbac.RoleManager}},
		{"user", "user@example.com", "user123", false, []string{rbac.RoleUser}},
	}
	now := time.Now().UTC()
	for _, seed := range seeds {
		if _, err := store.FindUserByUsername(ctx, seed.username); err == nil {
			continue
		}
		hash, err := hasher.Hash(seed.password)
		if err != nil {
			return err
		}
		u := &identity.User{
			ID:            ids.New(),
			Username:      seed.username,
			Email:         seed.email,
			PasswordHash:  hash,
			EmailVerified: seed.verified,
			Roles:         seed.roles,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := store.CreateUser(ctx, u); err != nil {
			return err
		}
		log.Printf("seeded demo user %s", seed.username)
	}
	return nil
}
