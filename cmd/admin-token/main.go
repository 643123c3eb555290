package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/angelmondragon/chataccess/pkg/auth"
	"github.com/angelmondragon/chataccess/pkg/config"
	"github.com/angelmondragon/chataccess/pkg/enums"
)

func main() {
	_ = godotenv.Load()

	email := flag.String("email", "", "operator email embedded in the token")
	role := flag.String("role", string(enums.RoleAdmin), "operator role: admin|staff")
	actor := flag.String("actor", "", "operator id (defaults to a random uuid)")
	flag.Parse()

	token, err := mint(time.Now(), *email, *role, *actor)
	if err != nil {
		exitf("%v", err)
	}
	fmt.Println(token)
}

func mint(now time.Time, email, rawRole, actor string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", fmt.Errorf("missing -email")
	}
	role, err := enums.ParseRole(rawRole)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(actor) == "" {
		actor = uuid.NewString()
	}

	cfg, err := config.LoadJWT()
	if err != nil {
		return "", err
	}
	return auth.MintAccessToken(cfg, now, auth.AccessTokenPayload{
		ActorID: actor,
		Email:   email,
		Role:    role,
		JTI:     uuid.NewString(),
	})
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
