// Command userctl provisions users and issues their bearer API keys.
// The raw key is printed exactly once; only its peppered hash is
// stored.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"chathub/internal/keys"
)

func main() {
	var (
		dbURL    = flag.String("db", os.Getenv("CHATHUB_DATABASE_URL"), "Postgres connection string")
		pepper   = flag.String("pepper", os.Getenv("CHATHUB_API_KEY_PEPPER"), "API key hash pepper")
		username = flag.String("username", "", "Username to create or issue a key for")
		admin    = flag.Bool("admin", false, "Grant the admin flag when creating the user")
	)
	flag.Parse()

	if *dbURL == "" {
		log.Fatal("missing -db or CHATHUB_DATABASE_URL")
	}
	if *pepper == "" {
		log.Fatal("missing -pepper or CHATHUB_API_KEY_PEPPER")
	}
	name := strings.TrimSpace(*username)
	if name == "" {
		log.Fatal("missing -username")
	}

	db, err := sql.Open("pgx", *dbURL)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	userID, err := ensureUser(db, name, *admin)
	if err != nil {
		log.Fatalf("ensure user: %v", err)
	}

	apiKey, err := issueKey(db, *pepper, userID)
	if err != nil {
		log.Fatalf("issue key: %v", err)
	}

	fmt.Printf("user: %s (%s)\napi key: %s\n", name, userID, apiKey)
}

func ensureUser(db *sql.DB, username string, admin bool) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.QueryRow(`select id from users where username = $1`, username).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return uuid.Nil, err
	}
	err = db.QueryRow(`
		insert into users (username, is_admin)
		values ($1, $2)
		returning id
	`, username, admin).Scan(&id)
	return id, err
}

func issueKey(db *sql.DB, pepper string, userID uuid.UUID) (string, error) {
	apiKey, err := keys.NewAPIKey()
	if err != nil {
		return "", err
	}
	_, err = db.Exec(`
		insert into user_api_keys (key_hash, user_id)
		values ($1, $2)
	`, keys.HashAPIKey(pepper, apiKey), userID)
	if err != nil {
		return "", err
	}
	return apiKey, nil
}
