package main

import (
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"

	"github.com/arklim/academy-sessions/internal/infra/config"
	"github.com/arklim/academy-sessions/internal/infra/security"
)

// mint_identity signs a development identity token with the first private key in the identity key directory.
func main() {
	_ = godotenv.Load()

	subject := flag.String("subject", "", "subject id asserted by the token")
	email := flag.String("email", "", "email claim")
	verified := flag.Bool("verified", true, "email_verified claim")
	role := flag.String("role", "student", "role claim")
	permissions := flag.String("permissions", "", "comma separated permissions")
	ttl := flag.Duration("ttl", 5*time.Minute, "token lifetime")
	flag.Parse()

	if strings.TrimSpace(*subject) == "" {
		log.Fatal("-subject is required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	provider, err := security.NewDirKeyProvider(cfg.Identity.KeyDirectory)
	if err != nil {
		log.Fatalf("failed to load identity keys: %v", err)
	}
	kid, key, err := provider.SigningKey()
	if err != nil {
		log.Fatalf("no signing key in %s: %v", cfg.Identity.KeyDirectory, err)
	}

	var perms []string
	for _, p := range strings.Split(*permissions, ",") {
		if p = strings.TrimSpace(p); p != "" {
			perms = append(perms, p)
		}
	}

	now := time.Now().UTC()
	token, err := security.SignIdentityToken(kid, key, &security.IdentityTokenClaims{
		Email:         *email,
		EmailVerified: *verified,
		Role:          *role,
		Permissions:   perms,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Identity.Issuer,
			Subject:   *subject,
			Audience:  jwt.ClaimStrings{cfg.Identity.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(*ttl)),
		},
	})
	if err != nil {
		log.Fatalf("failed to sign identity token: %v", err)
	}

	fmt.Println(token)
}
